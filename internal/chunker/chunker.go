// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"fmt"
	"iter"
	"slices"
	"unicode"

	"github.com/bull/pdf-rag/internal/ragerr"
)

const (
	// DefaultSize is the maximum chunk length in characters.
	DefaultSize = 1000

	// DefaultOverlap is the number of characters shared by neighboring chunks.
	DefaultOverlap = 200
)

// Chunk is a contiguous window of a source document.
type Chunk struct {
	Index int    // Position within the source (0, 1, 2...)
	Text  string // Window content
}

// Chunker produces overlapping windows measured in runes.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. The overlap must be smaller than the window size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ragerr.ErrValidation, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", ragerr.ErrValidation, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns the windows of text as a lazy sequence. Ranging over the
// sequence again restarts it from the first window.
//
// Window k+1 always begins exactly Overlap runes before window k ends, so
// dropping the first Overlap runes of every window after the first and
// concatenating reproduces text.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		n := len(runes)

		start := 0
		for index := 0; start < n; index++ {
			end := min(start+c.size, n)
			if end < n {
				end = c.sentenceEnd(runes, start, end)
			}

			if !yield(Chunk{Index: index, Text: string(runes[start:end])}) {
				return
			}
			if end == n {
				return
			}
			start = end - c.overlap
		}
	}
}

// Split collects every chunk of text.
func (c *Chunker) Split(text string) []Chunk {
	return slices.Collect(c.Chunks(text))
}

// sentenceEnd pulls end back to the last sentence boundary in the second half
// of the window. The result stays above start+overlap so the next window
// always advances.
func (c *Chunker) sentenceEnd(runes []rune, start, end int) int {
	lo := start + max(c.size/2, c.overlap+1)
	for p := end; p > lo; p-- {
		if isTerminator(runes[p-1]) && unicode.IsSpace(runes[p]) {
			return p
		}
	}
	return end
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}
