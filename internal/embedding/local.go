package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bull/pdf-rag/internal/ragerr"
)

const (
	// DefaultLocalURL is the address of a local Ollama server.
	DefaultLocalURL = "http://localhost:11434"

	// DefaultLocalModel is the Ollama build of sentence-transformers/all-MiniLM-L6-v2.
	DefaultLocalModel = "all-minilm"
)

// LocalModelConfig locates a locally hosted embedding model.
type LocalModelConfig struct {
	BaseURL   string // e.g. http://localhost:11434
	Model     string // e.g. all-minilm
	Dimension int    // expected vector size; defaults to LocalDimension
	BatchSize int
	Timeout   time.Duration
}

// LocalModel is a handle to a loaded local embedding model. Open it once per
// process with OpenLocalModel, share it between embedders, and Close it on shutdown.
type LocalModel struct {
	cfg        LocalModelConfig
	httpClient *http.Client

	mu     sync.RWMutex
	closed bool
}

// OpenLocalModel verifies that the model is served and produces vectors of
// the configured dimension. The check also makes Ollama load the model.
func OpenLocalModel(ctx context.Context, cfg LocalModelConfig) (*LocalModel, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLocalURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLocalModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = LocalDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	m := &LocalModel{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}

	vectors, err := m.embed(ctx, []string{"ping"})
	if err != nil {
		return nil, fmt.Errorf("open local model %s: %w", cfg.Model, err)
	}
	if err := checkVectors(vectors, 1, cfg.Dimension); err != nil {
		return nil, fmt.Errorf("open local model %s: %w", cfg.Model, err)
	}

	return m, nil
}

// Dimension returns the vector size the model produces.
func (m *LocalModel) Dimension() int {
	return m.cfg.Dimension
}

// Name returns the model identifier.
func (m *LocalModel) Name() string {
	return m.cfg.Model
}

// Close releases the handle. Embedding with a closed model fails.
func (m *LocalModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.httpClient.CloseIdleConnections()
	return nil
}

// embed performs one /api/embed call.
func (m *LocalModel) embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: local model is closed", ragerr.ErrEmbedding)
	}

	payload, err := json.Marshal(map[string]any{
		"model": m.cfg.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %w", ragerr.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ragerr.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: ollama: %w", ragerr.ErrEmbedding, err)
		if errors.Is(err, context.Canceled) {
			return nil, wrapped
		}
		return nil, ragerr.Retryable(wrapped)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerr.Retryable(fmt.Errorf("%w: read response: %w", ragerr.ErrEmbedding, err))
	}

	if resp.StatusCode != http.StatusOK {
		wrapped := fmt.Errorf("%w: ollama status %d: %s", ragerr.ErrEmbedding, resp.StatusCode, strings.TrimSpace(string(body)))
		if retryableStatus(resp.StatusCode) {
			return nil, ragerr.Retryable(wrapped)
		}
		return nil, wrapped
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ragerr.ErrEmbedding, err)
	}
	return out.Embeddings, nil
}

// LocalEmbedder embeds texts with a shared LocalModel.
type LocalEmbedder struct {
	model  *LocalModel
	logger *slog.Logger
}

// NewLocalEmbedder creates an embedder backed by model.
func NewLocalEmbedder(model *LocalModel, logger *slog.Logger) *LocalEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEmbedder{model: model, logger: logger}
}

// Dimension implements Embedder.
func (e *LocalEmbedder) Dimension() int {
	return e.model.Dimension()
}

// Embed implements Embedder.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	return embedBatches(ctx, texts, e.model.cfg.BatchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		vectors, err := e.model.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if err := checkVectors(vectors, len(batch), e.model.Dimension()); err != nil {
			return nil, err
		}
		e.logger.Debug("embedded batch", "model", e.model.Name(), "texts", len(batch))
		return vectors, nil
	})
}
