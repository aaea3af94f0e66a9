package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// Payload keys written for every chunk point.
const (
	PayloadSource     = "source"
	PayloadText       = "text"
	PayloadChunkIndex = "chunk_index"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "docs"

// Metric is the similarity function of a collection.
type Metric string

// MetricCosine is the only metric the pipeline creates collections with.
const MetricCosine Metric = "cosine"

// CollectionConfig describes the collection a store is bound to.
type CollectionConfig struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Validate checks the collection configuration before any remote call.
func (c CollectionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is required", ragerr.ErrValidation)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: collection dimension must be positive, got %d", ragerr.ErrValidation, c.Dimension)
	}
	if c.Metric != MetricCosine {
		return fmt.Errorf("%w: unsupported metric %q", ragerr.ErrValidation, c.Metric)
	}
	return nil
}

// ScoredPoint is a search hit with its cosine similarity to the query.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Text returns the chunk text stored in the payload.
func (p ScoredPoint) Text() string {
	s, _ := p.Payload[PayloadText].(string)
	return s
}

// Source returns the source identifier stored in the payload.
func (p ScoredPoint) Source() string {
	s, _ := p.Payload[PayloadSource].(string)
	return s
}

// VectorStore is a collection-bound client for a vector database.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// EnsureCollection creates the collection if it is absent. An existing
	// collection is never modified; a mismatching one is an error.
	EnsureCollection(ctx context.Context) error

	// Upsert writes or fully replaces the points keyed by ids.
	Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error

	// Search returns up to topK points by descending cosine similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredPoint, error)

	// DeleteSource removes every point whose payload source equals source.
	DeleteSource(ctx context.Context, source string) error

	// Count returns the exact number of points in the collection.
	Count(ctx context.Context) (uint64, error)

	// Health checks connectivity to the backend.
	Health(ctx context.Context) error

	// Collection returns the configuration the store is bound to.
	Collection() CollectionConfig

	Close() error
}

// PointID derives the deterministic point identifier of a chunk:
// uuid5(NAMESPACE_URL, "<source>:<index>"). Re-ingesting a source therefore
// overwrites its points instead of duplicating them.
func PointID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "%s:%d", source, index)).String()
}

// validateUpsert checks sequence lengths and vector dimensions.
func validateUpsert(dim int, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("%w: upsert needs equal lengths, got %d ids, %d vectors, %d payloads",
			ragerr.ErrValidation, len(ids), len(vectors), len(payloads))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: point %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// validateQuery checks the query vector and result limit.
func validateQuery(dim int, vector []float32, topK int) error {
	if topK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ragerr.ErrValidation, topK)
	}
	if len(vector) != dim {
		return fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}
