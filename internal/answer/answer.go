// Package answer turns retrieved contexts into the text returned to the user.
package answer

import (
	"context"
	"unicode/utf8"
)

const (
	// NoContextAnswer is returned when retrieval finds nothing.
	NoContextAnswer = "No relevant context found. Try rephrasing your question."

	// DefaultMaxLength is the display limit of an extractive answer, in characters.
	DefaultMaxLength = 1024

	// TruncationMarker is appended to an answer cut at the display limit.
	TruncationMarker = "..."
)

// Composer builds an answer from contexts ordered by descending relevance.
// It is only invoked with at least one context.
type Composer interface {
	Compose(ctx context.Context, question string, contexts []string) (string, error)
}

// ComposerFunc adapts a plain function to Composer.
type ComposerFunc func(ctx context.Context, question string, contexts []string) (string, error)

// Compose implements Composer.
func (f ComposerFunc) Compose(ctx context.Context, question string, contexts []string) (string, error) {
	return f(ctx, question, contexts)
}

// Extractive answers with the highest-ranked context cut to maxLength
// characters. maxLength <= 0 selects DefaultMaxLength.
func Extractive(maxLength int) Composer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return ComposerFunc(func(_ context.Context, _ string, contexts []string) (string, error) {
		if len(contexts) == 0 {
			return NoContextAnswer, nil
		}
		return Truncate(contexts[0], maxLength), nil
	})
}

// Truncate returns s unchanged when it has at most maxLength characters,
// otherwise its first maxLength characters followed by TruncationMarker.
func Truncate(s string, maxLength int) string {
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLength {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}
