// Package ragerr defines the error kinds shared by every pipeline stage.
package ragerr

import "errors"

var (
	ErrExtraction = errors.New("document extraction failed")
	ErrEmbedding  = errors.New("embedding failed")
	ErrGeneration = errors.New("answer generation failed")
	ErrStore      = errors.New("vector store error")
	ErrValidation = errors.New("validation failed")
)

// retryableError marks a failure as transient. The workflow host only
// re-attempts steps whose error carries this marker.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so IsRetryable reports true for it. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether any error in err's chain was marked Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
