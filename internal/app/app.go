// Package app assembles the pipeline and its backends from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bull/pdf-rag/internal/answer"
	"github.com/bull/pdf-rag/internal/chunker"
	"github.com/bull/pdf-rag/internal/config"
	"github.com/bull/pdf-rag/internal/embedding"
	"github.com/bull/pdf-rag/internal/extract"
	ghclient "github.com/bull/pdf-rag/internal/github"
	"github.com/bull/pdf-rag/internal/pipeline"
	"github.com/bull/pdf-rag/internal/storage"
	"github.com/bull/pdf-rag/internal/workflow"
)

// App owns the pipeline and every resource opened to build it.
type App struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Store    storage.VectorStore

	logger  *slog.Logger
	closers []func() error
}

// Build validates cfg and opens the configured vector store, embedding
// backend, answer composer and step journal. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	collection := storage.CollectionConfig{
		Name:      cfg.Collection,
		Dimension: cfg.Dimension(),
		Metric:    storage.MetricCosine,
	}

	store, err := openStore(ctx, cfg, collection)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	var openaiClient *embedding.Client
	if cfg.OpenAIAPIKey != "" {
		openaiClient, err = embedding.NewClient(embedding.ClientConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
	}

	embedder, err := a.openEmbedder(ctx, openaiClient)
	if err != nil {
		return nil, err
	}

	var composer answer.Composer
	switch cfg.AnswerPolicy {
	case config.PolicyGenerative:
		composer = answer.NewGenerative(openaiClient.Client(), cfg.ChatModel, 0, logger)
	default:
		composer = answer.Extractive(cfg.AnswerMaxLength)
	}

	journal, err := openJournal(cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	host := workflow.NewHost(journal, workflow.RetryPolicy{MaxAttempts: cfg.StepMaxAttempts}, logger)
	a.closers = append(a.closers, host.Close)

	chunks, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.NewPipeline(pipeline.Config{
		Extractor: extract.NewByExtension(),
		Chunker:   chunks,
		Embedder:  embedder,
		Store:     store,
		Host:      host,
		Composer:  composer,
		TopK:      cfg.TopK,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("pipeline ready",
		"vector_backend", cfg.VectorBackend,
		"embed_backend", cfg.EmbedBackend,
		"collection", collection.Name,
		"dimension", collection.Dimension,
		"chunk_size", chunks.Size(),
		"chunk_overlap", chunks.Overlap(),
		"answer_policy", cfg.AnswerPolicy,
	)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, collection storage.CollectionConfig) (storage.VectorStore, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		return storage.NewQdrantStorage(storage.QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantTLS,
		}, collection)
	case config.BackendPGVector:
		return storage.NewPGVectorStorage(ctx, cfg.DatabaseURL, collection)
	case config.BackendSQLite:
		return storage.NewSQLiteStorage(cfg.SQLitePath, collection)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func (a *App) openEmbedder(ctx context.Context, client *embedding.Client) (embedding.Embedder, error) {
	cfg := a.Config
	switch cfg.EmbedBackend {
	case config.EmbedOpenAI:
		return embedding.NewOpenAIEmbedder(client, embedding.OpenAIConfig{
			Model:     cfg.OpenAIEmbedModel,
			Dimension: cfg.Dimension(),
			BatchSize: cfg.EmbedBatchSize,
		}, a.logger), nil
	default:
		model, err := embedding.OpenLocalModel(ctx, embedding.LocalModelConfig{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.OllamaEmbedModel,
			Dimension: cfg.Dimension(),
			BatchSize: cfg.EmbedBatchSize,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, model.Close)
		return embedding.NewLocalEmbedder(model, a.logger), nil
	}
}

func openJournal(path string) (workflow.Journal, error) {
	if path == "" {
		return workflow.NewMemoryJournal(), nil
	}
	return workflow.OpenBoltJournal(path)
}

// Fetcher returns a GitHub source for every PDF under dir in repository
// ("owner/name").
func (a *App) Fetcher(repository, dir string) (*ghclient.Fetcher, error) {
	owner, repo, err := ghclient.ParseRepository(repository)
	if err != nil {
		return nil, err
	}
	client, err := ghclient.NewClient(a.Config.GitHubToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return ghclient.NewFetcher(client, owner, repo, dir, ".pdf"), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
