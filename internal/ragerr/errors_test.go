package ragerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	cause := fmt.Errorf("%w: connection refused", ErrEmbedding)
	err := fmt.Errorf("embed batch 0-10: %w", Retryable(cause))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Equal(t, "embed batch 0-10: embedding failed: connection refused", err.Error())
}

func TestRetryable_Nil(t *testing.T) {
	assert.NoError(t, Retryable(nil))
}

func TestIsRetryable_PlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(ErrValidation))
	assert.False(t, IsRetryable(nil))
}
