package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/bull/pdf-rag/internal/ragerr"
	"github.com/bull/pdf-rag/internal/storage"
	"github.com/bull/pdf-rag/internal/workflow"
)

// Ingest runs the ingestion workflow under runID (empty for a new run):
// load-and-chunk, then embed-and-upsert. Re-running a run id resumes after
// its last completed step.
func (p *Pipeline) Ingest(ctx context.Context, runID string, req IngestRequest) (IngestResult, error) {
	if strings.TrimSpace(req.PDFPath) == "" {
		return IngestResult{}, fmt.Errorf("%w: pdf_path is required", ragerr.ErrValidation)
	}
	source := req.SourceID
	if source == "" {
		source = req.PDFPath
	}

	run := p.host.Start(runID)
	p.logger.Info("Starting ingestion", "run", run.ID(), "path", req.PDFPath, "source", source)

	chunks, err := workflow.Step(ctx, run, StepLoadAndChunk, func(ctx context.Context) ([]string, error) {
		return p.LoadAndChunk(ctx, req.PDFPath)
	})
	if err != nil {
		return IngestResult{}, err
	}

	ingested, err := workflow.Step(ctx, run, StepEmbedAndUpsert, func(ctx context.Context) (int, error) {
		return p.EmbedAndUpsert(ctx, chunks, source)
	})
	if err != nil {
		return IngestResult{}, err
	}

	p.complete(ctx, run)
	p.logger.Info("Ingested document", "run", run.ID(), "source", source, "chunks", ingested)
	return IngestResult{Ingested: ingested}, nil
}

// LoadAndChunk extracts the document text and splits it into chunk texts.
func (p *Pipeline) LoadAndChunk(ctx context.Context, path string) ([]string, error) {
	text, err := p.extractor.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(text)/p.chunker.Size()+1)
	for c := range p.chunker.Chunks(text) {
		chunks = append(chunks, c.Text)
	}
	p.logger.Debug("Chunked document", "path", path, "chars", len(text), "chunks", len(chunks))
	return chunks, nil
}

// EmbedAndUpsert embeds chunks and stores them as points of source. Point ids
// derive from source and chunk index, so repeating the call converges to the
// same stored points.
func (p *Pipeline) EmbedAndUpsert(ctx context.Context, chunks []string, source string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", ragerr.ErrEmbedding, len(vectors), len(chunks))
	}

	if err := p.store.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	ids := make([]string, len(chunks))
	payloads := make([]map[string]any, len(chunks))
	for i, text := range chunks {
		ids[i] = storage.PointID(source, i)
		payloads[i] = map[string]any{
			storage.PayloadSource:     source,
			storage.PayloadText:       text,
			storage.PayloadChunkIndex: i,
		}
	}

	if err := p.store.Upsert(ctx, ids, vectors, payloads); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
