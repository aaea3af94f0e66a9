// Package extract turns documents into plain text for chunking.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// Extractor returns the plain text of a document identified by source.
type Extractor interface {
	ExtractText(ctx context.Context, source string) (string, error)
}

// ByExtension dispatches to an Extractor chosen by the file extension of the source.
type ByExtension struct {
	extractors map[string]Extractor
}

// NewByExtension registers the default extractors: PDF for ".pdf" and
// Markdown for ".md" and ".markdown".
func NewByExtension() *ByExtension {
	md := NewMarkdownExtractor()
	return &ByExtension{
		extractors: map[string]Extractor{
			".pdf":      NewPDFExtractor(),
			".md":       md,
			".markdown": md,
		},
	}
}

// Register binds ext (including the leading dot) to e.
func (b *ByExtension) Register(ext string, e Extractor) {
	b.extractors[strings.ToLower(ext)] = e
}

// ExtractText implements Extractor.
func (b *ByExtension) ExtractText(ctx context.Context, source string) (string, error) {
	ext := strings.ToLower(filepath.Ext(source))
	e, ok := b.extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: unsupported document type %q for %s", ragerr.ErrExtraction, ext, source)
	}
	return e.ExtractText(ctx, source)
}

// statFile checks that path names a readable regular file.
func statFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ragerr.ErrExtraction, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ragerr.ErrExtraction, path)
	}
	return info, nil
}
