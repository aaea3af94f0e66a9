package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// PDFExtractor reads the text layer of PDF files page by page.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF text extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractText opens the PDF at path and returns the text of its non-empty
// pages separated by blank lines. A PDF without any text returns "".
func (e *PDFExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	info, err := statFile(path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ragerr.ErrExtraction, err)
	}
	defer f.Close()

	return e.ExtractReader(ctx, f, info.Size())
}

// ExtractReader extracts text from a PDF byte stream of the given size.
func (e *PDFExtractor) ExtractReader(ctx context.Context, r io.ReaderAt, size int64) (text string, err error) {
	// The parser panics on some malformed inputs instead of returning an error.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("%w: malformed pdf: %v", ragerr.ErrExtraction, p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %w", ragerr.ErrExtraction, err)
	}

	var pages []string
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}

		content, err := page.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %w", ragerr.ErrExtraction, i, err)
		}
		if content = strings.TrimSpace(content); content != "" {
			pages = append(pages, content)
		}
	}

	// A document without a text layer is not an error; it yields no chunks.
	return strings.Join(pages, "\n\n"), nil
}
