package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdf-rag/internal/config"
	"github.com/bull/pdf-rag/internal/pipeline"
	"github.com/bull/pdf-rag/internal/ragerr"
)

func fakeOllama(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		embeddings := make([][]float32, len(req.Input))
		for i := range embeddings {
			embeddings[i] = make([]float32, dim)
			embeddings[i][0] = 1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
}

func testConfig(t *testing.T, ollamaURL string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		VectorBackend:    config.BackendSQLite,
		SQLitePath:       filepath.Join(dir, "rag.db"),
		Collection:       "docs",
		EmbedBackend:     config.EmbedLocal,
		OllamaURL:        ollamaURL,
		OllamaEmbedModel: "all-minilm",
		EmbedBatchSize:   500,
		ChunkSize:        1000,
		ChunkOverlap:     200,
		TopK:             5,
		AnswerMaxLength:  1024,
		AnswerPolicy:     config.PolicyExtractive,
		JournalPath:      filepath.Join(dir, "journal.db"),
		StepMaxAttempts:  3,
	}
}

func TestBuildSQLiteLocal(t *testing.T) {
	srv := fakeOllama(t, 384)
	defer srv.Close()

	a, err := Build(context.Background(), testConfig(t, srv.URL), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Pipeline)
	assert.Equal(t, 384, a.Store.Collection().Dimension)

	result, err := a.Pipeline.Query(context.Background(), "", pipeline.QueryRequest{Question: "anything?"})
	require.NoError(t, err)
	assert.Zero(t, result.NumContexts)
	assert.Empty(t, result.Sources)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.VectorBackend = "unknown"

	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ragerr.ErrValidation)
}

func TestBuildFailsOnEmbedderDimension(t *testing.T) {
	srv := fakeOllama(t, 768)
	defer srv.Close()

	_, err := Build(context.Background(), testConfig(t, srv.URL), nil)
	assert.ErrorIs(t, err, ragerr.ErrEmbedding)
}

func TestFetcherParsesRepository(t *testing.T) {
	a := &App{Config: &config.Config{}}

	f, err := a.Fetcher("owner/docs", "manuals")
	require.NoError(t, err)
	assert.Equal(t, "owner/docs", f.Repository())

	_, err = a.Fetcher("no-slash", "")
	assert.Error(t, err)
}
