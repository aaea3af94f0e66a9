package pipeline

import "time"

// IngestRequest triggers ingestion of one document.
type IngestRequest struct {
	PDFPath  string `json:"pdf_path"`
	SourceID string `json:"source_id,omitempty"` // defaults to PDFPath
}

// IngestResult reports how many chunks were stored.
type IngestResult struct {
	Ingested int `json:"ingested"`
}

// QueryRequest triggers retrieval and answer composition.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"` // defaults to the pipeline's top-k
}

// QueryResult is the composed answer and its provenance.
type QueryResult struct {
	Answer      string   `json:"answer"`
	Sources     []string `json:"sources"`
	NumContexts int      `json:"num_contexts"`
}

// SearchResult holds retrieved chunk texts, best first, and the distinct
// sources they came from in order of first appearance.
type SearchResult struct {
	Contexts []string `json:"contexts"`
	Sources  []string `json:"sources"`
}

// CollectionInfo describes the collection the pipeline writes to.
type CollectionInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Points    uint64 `json:"points"`
}

// SyncResult contains statistics about a repository sync.
type SyncResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	FailedDocs     []FailedDoc
	CommitSHA      string
	Duration       time.Duration
}

// FailedDoc represents a document that failed to ingest.
type FailedDoc struct {
	Path   string
	Reason string
}
