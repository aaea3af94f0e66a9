package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdf-rag/internal/answer"
	"github.com/bull/pdf-rag/internal/chunker"
	"github.com/bull/pdf-rag/internal/extract"
	"github.com/bull/pdf-rag/internal/ragerr"
	"github.com/bull/pdf-rag/internal/storage"
	"github.com/bull/pdf-rag/internal/workflow"
)

const testDimension = 8

// fileExtractor returns a file's bytes as its text.
type fileExtractor struct {
	calls atomic.Int32
}

func (e *fileExtractor) ExtractText(_ context.Context, path string) (string, error) {
	e.calls.Add(1)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ragerr.ErrExtraction, err)
	}
	return string(data), nil
}

// letterEmbedder maps a text to rune counts bucketed by rune value, so
// identical texts get identical vectors. failures holds errors returned by
// successive calls before it starts succeeding.
type letterEmbedder struct {
	calls    atomic.Int32
	failures []error
}

func (e *letterEmbedder) Dimension() int { return testDimension }

func (e *letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	n := int(e.calls.Add(1))
	if n <= len(e.failures) {
		return nil, e.failures[n-1]
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDimension)
		for _, r := range text {
			v[int(r)%testDimension]++
		}
		vectors[i] = v
	}
	return vectors, nil
}

type testEnv struct {
	pipeline  *Pipeline
	store     *storage.SQLiteStorage
	extractor *fileExtractor
	embedder  *letterEmbedder
	dir       string
}

func newTestEnv(t *testing.T, size, overlap int, composer answer.Composer) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", storage.CollectionConfig{
		Name:      "docs",
		Dimension: testDimension,
		Metric:    storage.MetricCosine,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ch, err := chunker.New(size, overlap)
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		extractor: &fileExtractor{},
		embedder:  &letterEmbedder{},
		dir:       t.TempDir(),
	}
	host := workflow.NewHost(nil, workflow.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil)

	env.pipeline, err = NewPipeline(Config{
		Extractor: env.extractor,
		Chunker:   ch,
		Embedder:  env.embedder,
		Store:     store,
		Host:      host,
		Composer:  composer,
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const threeChunks = "aaaaaaaaaabbbbbbbbbbcccccccccc"

func TestIngestDerivesDeterministicIDs(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()
	path := env.writeDoc(t, "doc.pdf", threeChunks)

	res, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: path, SourceID: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)

	n, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	expected := []string{
		"ac3bc37d-f169-5f73-842f-b277e90123ad", // uuid5(NAMESPACE_URL, "doc1:0")
		"2102f41f-82a4-5909-a638-d8a95138cf65",
		"1b86fb50-8071-5651-8ca8-7c76272a028d",
	}
	for i, chunk := range []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"} {
		vectors, err := env.embedder.Embed(ctx, []string{chunk})
		require.NoError(t, err)
		hits, err := env.store.Search(ctx, vectors[0], 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, expected[i], hits[0].ID)
		assert.Equal(t, chunk, hits[0].Text())
		assert.Equal(t, "doc1", hits[0].Source())
		assert.Equal(t, int64(i), hits[0].Payload[storage.PayloadChunkIndex])
	}
}

func TestIngestTwiceDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()
	path := env.writeDoc(t, "doc.pdf", threeChunks)

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: path, SourceID: "doc1"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("aaaaaaaaaabbbbbbbbbbdddddddddd"), 0o644))
	_, err = env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: path, SourceID: "doc1"})
	require.NoError(t, err)

	n, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "dddddddddd", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, "dddddddddd", res.Answer, "latest payload wins")
}

func TestIngestSourceDefaultsToPath(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()
	path := env.writeDoc(t, "doc.pdf", "hello")

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: path})
	require.NoError(t, err)

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, res.Sources)
}

func TestQueryWithoutIngestion(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)

	res, err := env.pipeline.Query(context.Background(), "", QueryRequest{Question: "anything?"})
	require.NoError(t, err)
	assert.Equal(t, QueryResult{
		Answer:      "No relevant context found. Try rephrasing your question.",
		Sources:     []string{},
		NumContexts: 0,
	}, res)
}

func TestQueryReturnsTopContextAndSources(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "a.pdf", threeChunks), SourceID: "doc1"})
	require.NoError(t, err)
	_, err = env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "b.pdf", "bbbbbbbbba"), SourceID: "doc2"})
	require.NoError(t, err)

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "bbbbbbbbbb", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbbbb", res.Answer)
	assert.Equal(t, 3, res.NumContexts)
	assert.Equal(t, "doc1", res.Sources[0])
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, res.Sources)

	res, err = env.pipeline.Query(ctx, "", QueryRequest{Question: "bbbbbbbbbb"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.NumContexts, "default top_k exceeds the 4 stored points")
}

func TestQueryTruncatesLongContext(t *testing.T) {
	env := newTestEnv(t, 3000, 0, nil)
	ctx := context.Background()
	long := strings.Repeat("x", 2000)

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "long.pdf", long), SourceID: "long"})
	require.NoError(t, err)

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "xxxx"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 1024)+"...", res.Answer)
	assert.Equal(t, 1, res.NumContexts)
}

func TestQueryUsesComposer(t *testing.T) {
	composer := answer.ComposerFunc(func(_ context.Context, q string, contexts []string) (string, error) {
		return fmt.Sprintf("%s (%d contexts)", q, len(contexts)), nil
	})
	env := newTestEnv(t, 10, 0, composer)
	ctx := context.Background()

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "a.pdf", threeChunks), SourceID: "doc1"})
	require.NoError(t, err)

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "  what?  ", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, "what? (2 contexts)", res.Answer)
}

func TestQuerySkipsHitsWithoutText(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "a.pdf", "bbbbbbbbbb"), SourceID: "doc1"})
	require.NoError(t, err)

	vector := make([]float32, testDimension)
	vector[int('b')%testDimension] = 10
	require.NoError(t, env.store.Upsert(ctx,
		[]string{storage.PointID("orphan", 0)},
		[][]float32{vector},
		[]map[string]any{{storage.PayloadSource: "orphan", storage.PayloadChunkIndex: 0}},
	))

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "bbbbbbbbbb", TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumContexts)
	assert.Equal(t, []string{"doc1"}, res.Sources)
	assert.Equal(t, "bbbbbbbbbb", res.Answer)
}

func TestIngestDocumentWithoutText(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	env.pipeline.extractor = extract.NewByExtension()
	ctx := context.Background()

	blank, err := os.ReadFile(filepath.Join("..", "extract", "testdata", "blank.pdf"))
	require.NoError(t, err)
	pdfPath := filepath.Join(env.dir, "scanned.pdf")
	require.NoError(t, os.WriteFile(pdfPath, blank, 0o644))

	res, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: pdfPath, SourceID: "scanned"})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Ingested: 0}, res)

	res, err = env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "comment.md", "<!-- draft -->\n"), SourceID: "notes"})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Ingested: 0}, res)

	n, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()

	_, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "   "})
	assert.ErrorIs(t, err, ragerr.ErrValidation)

	_, err = env.pipeline.Query(ctx, "", QueryRequest{Question: "q", TopK: -1})
	assert.ErrorIs(t, err, ragerr.ErrValidation)

	_, err = env.pipeline.Ingest(ctx, "", IngestRequest{})
	assert.ErrorIs(t, err, ragerr.ErrValidation)

	assert.ErrorIs(t, env.pipeline.DeleteSource(ctx, ""), ragerr.ErrValidation)
	assert.Zero(t, env.embedder.calls.Load())
}

func TestExtractionErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)

	_, err := env.pipeline.Ingest(context.Background(), "", IngestRequest{PDFPath: filepath.Join(env.dir, "missing.pdf")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrExtraction)
	assert.Contains(t, err.Error(), StepLoadAndChunk)
	assert.Equal(t, int32(1), env.extractor.calls.Load())
}

func TestTransientEmbeddingErrorIsRetried(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	env.embedder.failures = []error{ragerr.Retryable(fmt.Errorf("%w: unavailable", ragerr.ErrEmbedding))}

	res, err := env.pipeline.Ingest(context.Background(), "", IngestRequest{PDFPath: env.writeDoc(t, "doc.pdf", threeChunks)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)
	assert.Equal(t, int32(2), env.embedder.calls.Load())
	assert.Equal(t, int32(1), env.extractor.calls.Load())
}

func TestIngestResumesFromFailedStep(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	env.embedder.failures = []error{fmt.Errorf("%w: bad request", ragerr.ErrEmbedding)}
	ctx := context.Background()
	req := IngestRequest{PDFPath: env.writeDoc(t, "doc.pdf", threeChunks), SourceID: "doc1"}

	_, err := env.pipeline.Ingest(ctx, "run-1", req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	assert.Contains(t, err.Error(), StepEmbedAndUpsert)

	res, err := env.pipeline.Ingest(ctx, "run-1", req)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)
	assert.Equal(t, int32(1), env.extractor.calls.Load(), "load-and-chunk replayed from the journal")
	assert.Equal(t, int32(2), env.embedder.calls.Load())
}

func TestNewPipelineDimensionMismatch(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:", storage.CollectionConfig{
		Name:      "docs",
		Dimension: 384,
		Metric:    storage.MetricCosine,
	})
	require.NoError(t, err)
	defer store.Close()

	ch, err := chunker.New(10, 0)
	require.NoError(t, err)

	_, err = NewPipeline(Config{
		Extractor: &fileExtractor{},
		Chunker:   ch,
		Embedder:  &letterEmbedder{},
		Store:     store,
	})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestDeleteSourceAndInfo(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()

	_, err := env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "a.pdf", threeChunks), SourceID: "doc1"})
	require.NoError(t, err)
	_, err = env.pipeline.Ingest(ctx, "", IngestRequest{PDFPath: env.writeDoc(t, "b.pdf", "hello"), SourceID: "doc2"})
	require.NoError(t, err)

	info, err := env.pipeline.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, CollectionInfo{Name: "docs", Dimension: testDimension, Points: 4}, info)

	require.NoError(t, env.pipeline.DeleteSource(ctx, "doc1"))

	info, err = env.pipeline.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Points)
	assert.NoError(t, env.pipeline.Health(ctx))
}

// fakeSource serves documents from memory.
type fakeSource struct {
	docs map[string]string
}

func (s *fakeSource) Repository() string { return "acme/manuals" }

func (s *fakeSource) FullPath(rel string) string { return "docs/" + rel }

func (s *fakeSource) GetLatestCommitSHA(context.Context) (string, error) {
	return "abc123", nil
}

func (s *fakeSource) List(context.Context) ([]string, error) {
	return []string{"one.pdf", "broken.pdf", "two.pdf"}, nil
}

func (s *fakeSource) Download(_ context.Context, rel string) ([]byte, error) {
	doc, ok := s.docs[rel]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(doc), nil
}

func TestSync(t *testing.T) {
	env := newTestEnv(t, 10, 0, nil)
	ctx := context.Background()

	result, err := env.pipeline.Sync(ctx, &fakeSource{docs: map[string]string{
		"one.pdf": threeChunks,
		"two.pdf": "hello",
	}})
	require.NoError(t, err)

	assert.Equal(t, "abc123", result.CommitSHA)
	assert.Equal(t, 3, result.TotalDocs)
	assert.Equal(t, 2, result.SuccessfulDocs)
	assert.Equal(t, 4, result.TotalChunks)
	require.Len(t, result.FailedDocs, 1)
	assert.Equal(t, "broken.pdf", result.FailedDocs[0].Path)

	res, err := env.pipeline.Query(ctx, "", QueryRequest{Question: "hello", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/manuals/docs/two.pdf"}, res.Sources)
}
