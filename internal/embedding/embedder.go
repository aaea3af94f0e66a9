package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/pdf-rag/internal/ragerr"
)

const (
	// LocalDimension is the vector size of all-MiniLM-L6-v2.
	LocalDimension = 384

	// RemoteDimension is the vector size of text-embedding-3-large.
	RemoteDimension = 3072

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// Embedder maps an ordered batch of texts to vectors of one fixed dimension.
// The result has the same length and order as the input; an empty input
// yields an empty result without contacting the backend.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// embedBatches splits texts into batches of batchSize and concatenates the results.
func embedBatches(ctx context.Context, texts []string, batchSize int, embed func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))

		vectors, err := embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}

	return all, nil
}

// checkVectors verifies a backend response: one vector per text, each of dim values.
func checkVectors(vectors [][]float32, count, dim int) error {
	if len(vectors) != count {
		return fmt.Errorf("%w: backend returned %d vectors for %d texts", ragerr.ErrEmbedding, len(vectors), count)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ragerr.ErrEmbedding, i, len(v), dim)
		}
	}
	return nil
}

// retryableStatus reports whether an HTTP status signals a transient backend condition.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// newBackoff returns the retry schedule for rate-limited requests.
func newBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
