package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// OpenAIConfig selects the remote embedding model.
type OpenAIConfig struct {
	Model     string // defaults to text-embedding-3-large
	Dimension int    // defaults to RemoteDimension; forwarded to the API
	BatchSize int    // defaults to DefaultBatchSize
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
// It batches requests for efficiency and implements exponential backoff on rate limit errors.
type OpenAIEmbedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
	logger    *slog.Logger
}

// NewOpenAIEmbedder creates a remote embedder with the given client.
func NewOpenAIEmbedder(client *Client, cfg OpenAIConfig, logger *slog.Logger) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = openai.EmbeddingModelTextEmbedding3Large
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = RemoteDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIEmbedder{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return embedBatches(ctx, texts, e.batchSize, e.embedBatchWithRetry)
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors fail immediately and are classified for the caller.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model:      e.model,
			Dimensions: openai.Int(int64(e.dimension)),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // Will retry with backoff
			}
			return backoff.Permanent(err)
		}

		// The API reports each vector's input position; do not rely on response order.
		embeddings = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(texts) {
				return backoff.Permanent(fmt.Errorf("%w: response index %d out of range", ragerr.ErrEmbedding, data.Index))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("embedding request rate limited", "batch", len(texts), "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, newBackoff(ctx), notify); err != nil {
		return nil, classifyOpenAIError(err)
	}
	if err := checkVectors(embeddings, len(texts), e.dimension); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// classifyOpenAIError wraps err with ErrEmbedding. Rate limits, server errors
// and transport failures are marked retryable; other API errors are not.
func classifyOpenAIError(err error) error {
	if errors.Is(err, ragerr.ErrEmbedding) {
		return err
	}
	wrapped := fmt.Errorf("%w: openai: %w", ragerr.ErrEmbedding, err)

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return ragerr.Retryable(wrapped)
		}
		return wrapped
	}
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	return ragerr.Retryable(wrapped)
}
