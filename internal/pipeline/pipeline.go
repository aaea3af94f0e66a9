// Package pipeline sequences extraction, chunking, embedding, storage and
// answer composition as journaled workflow steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bull/pdf-rag/internal/answer"
	"github.com/bull/pdf-rag/internal/chunker"
	"github.com/bull/pdf-rag/internal/embedding"
	"github.com/bull/pdf-rag/internal/extract"
	"github.com/bull/pdf-rag/internal/ragerr"
	"github.com/bull/pdf-rag/internal/storage"
	"github.com/bull/pdf-rag/internal/workflow"
)

// DefaultTopK is the number of contexts retrieved when a query sets none.
const DefaultTopK = 5

// Step names as recorded in the journal.
const (
	StepLoadAndChunk   = "load-and-chunk"
	StepEmbedAndUpsert = "embed-and-upsert"
	StepEmbedQuery     = "embed-query"
	StepSearch         = "search"
	StepComposeAnswer  = "compose-answer"
)

// Config holds the pipeline's collaborators.
type Config struct {
	Extractor extract.Extractor
	Chunker   *chunker.Chunker
	Embedder  embedding.Embedder
	Store     storage.VectorStore
	Host      *workflow.Host
	Composer  answer.Composer // defaults to answer.Extractive(answer.DefaultMaxLength)
	TopK      int             // defaults to DefaultTopK
	Logger    *slog.Logger
}

// Pipeline runs the ingestion and query workflows.
type Pipeline struct {
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	store     storage.VectorStore
	host      *workflow.Host
	composer  answer.Composer
	topK      int
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. The store's collection dimension must
// equal the embedder's dimension.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Extractor == nil || cfg.Chunker == nil || cfg.Embedder == nil || cfg.Store == nil {
		return nil, errors.New("pipeline: extractor, chunker, embedder and store are required")
	}
	if dim, want := cfg.Store.Collection().Dimension, cfg.Embedder.Dimension(); dim != want {
		return nil, fmt.Errorf("%w: collection %q has dimension %d, embedder produces %d",
			storage.ErrDimensionMismatch, cfg.Store.Collection().Name, dim, want)
	}

	if cfg.Host == nil {
		cfg.Host = workflow.NewHost(nil, workflow.DefaultRetryPolicy, cfg.Logger)
	}
	if cfg.Composer == nil {
		cfg.Composer = answer.Extractive(answer.DefaultMaxLength)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		extractor: cfg.Extractor,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		host:      cfg.Host,
		composer:  cfg.Composer,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}, nil
}

// Info reports the collection name, dimension and point count.
func (p *Pipeline) Info(ctx context.Context) (CollectionInfo, error) {
	coll := p.store.Collection()
	if err := p.store.EnsureCollection(ctx); err != nil {
		return CollectionInfo{}, err
	}
	n, err := p.store.Count(ctx)
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{Name: coll.Name, Dimension: coll.Dimension, Points: n}, nil
}

// Health checks the vector store.
func (p *Pipeline) Health(ctx context.Context) error {
	return p.store.Health(ctx)
}

// DeleteSource removes every stored chunk of source.
func (p *Pipeline) DeleteSource(ctx context.Context, source string) error {
	if source == "" {
		return fmt.Errorf("%w: source is required", ragerr.ErrValidation)
	}
	if err := p.store.DeleteSource(ctx, source); err != nil {
		return err
	}
	p.logger.Info("Deleted source", "source", source)
	return nil
}

// complete releases the journal entries of a successful run. Failures are logged.
func (p *Pipeline) complete(ctx context.Context, run *workflow.Run) {
	if err := run.Complete(ctx); err != nil {
		p.logger.Warn("Failed to release run journal", "run", run.ID(), "error", err)
	}
}
