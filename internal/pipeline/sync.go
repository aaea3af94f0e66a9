package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"
)

// DocumentSource lists and downloads documents from a remote repository.
type DocumentSource interface {
	Repository() string
	FullPath(relativePath string) string
	GetLatestCommitSHA(ctx context.Context) (string, error)
	List(ctx context.Context) ([]string, error)
	Download(ctx context.Context, relativePath string) ([]byte, error)
}

// Sync ingests every document of src. Each document is ingested as its own
// run with source id "<owner>/<repo>/<path>", so re-syncing overwrites the
// points of unchanged paths. Failed documents are reported, not fatal.
func (p *Pipeline) Sync(ctx context.Context, src DocumentSource) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	commitSHA, err := src.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("get commit SHA: %w", err)
	}
	result.CommitSHA = commitSHA
	p.logger.Info("Starting sync", "repository", src.Repository(), "commit", commitSHA)

	paths, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("Found documents", "count", len(paths))

	for _, rel := range paths {
		chunks, err := p.syncDocument(ctx, src, rel)
		if err != nil {
			p.logger.Warn("Failed to ingest document", "path", rel, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{
				Path:   rel,
				Reason: err.Error(),
			})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Sync complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)

	return result, nil
}

// syncDocument downloads one document to a temporary file and ingests it.
func (p *Pipeline) syncDocument(ctx context.Context, src DocumentSource, rel string) (int, error) {
	data, err := src.Download(ctx, rel)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}

	// Keep the extension; extractors are chosen by it.
	tmp, err := os.CreateTemp("", "rag-sync-*"+path.Ext(rel))
	if err != nil {
		return 0, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	res, err := p.Ingest(ctx, "", IngestRequest{
		PDFPath:  tmp.Name(),
		SourceID: src.Repository() + "/" + src.FullPath(rel),
	})
	if err != nil {
		return 0, err
	}
	return res.Ingested, nil
}
