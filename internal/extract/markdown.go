package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// MarkdownExtractor strips Markdown syntax and keeps the readable text,
// including code block contents.
type MarkdownExtractor struct {
	parser goldmark.Markdown
}

// NewMarkdownExtractor creates a Markdown text extractor.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{parser: goldmark.New()}
}

// ExtractText reads the Markdown file at path and returns its plain text.
func (e *MarkdownExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if _, err := statFile(path); err != nil {
		return "", err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ragerr.ErrExtraction, err)
	}

	return e.PlainText(source), nil
}

// PlainText renders the Markdown source as plain text, one block per line.
func (e *MarkdownExtractor) PlainText(source []byte) string {
	doc := e.parser.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	newline := func() {
		if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				newline()
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}
