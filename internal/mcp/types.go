// Package mcp exposes the ingestion and query workflows as MCP tools.
package mcp

// IngestPDFInput defines the input parameters for the ingest_pdf tool.
type IngestPDFInput struct {
	// PDFPath is a path readable by the server process.
	PDFPath string `json:"pdf_path" jsonschema:"Path to the PDF (or Markdown) file to ingest, readable by the server"`
	// SourceID names the document in the store. Defaults to PDFPath.
	SourceID string `json:"source_id,omitempty" jsonschema:"Identifier stored with every chunk; defaults to pdf_path"`
	// RunID resumes a previous run. A new one is generated when empty.
	RunID string `json:"run_id,omitempty" jsonschema:"Workflow run id; reuse a failed run's id to resume it"`
}

// IngestPDFOutput reports the result of an ingestion run.
type IngestPDFOutput struct {
	// Ingested is the number of chunks written.
	Ingested int `json:"ingested"`
	// RunID identifies the workflow run.
	RunID string `json:"run_id"`
}

// QueryDocsInput defines the input parameters for the query_docs tool.
type QueryDocsInput struct {
	// Question is the natural-language question.
	Question string `json:"question" jsonschema:"The question to answer from the ingested documents"`
	// TopK is the number of contexts to retrieve.
	TopK int `json:"top_k,omitempty" jsonschema:"Number of chunks to retrieve (default 5)"`
}

// QueryDocsOutput contains the answer and its provenance.
type QueryDocsOutput struct {
	Answer      string   `json:"answer"`
	Sources     []string `json:"sources"`
	NumContexts int      `json:"num_contexts"`
	// Message provides informational context (e.g., "No matching chunks found").
	Message string `json:"message,omitempty"`
}

// CollectionInfoInput takes no parameters.
type CollectionInfoInput struct{}

// CollectionInfoOutput describes the bound collection.
type CollectionInfoOutput struct {
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
	Points     uint64 `json:"points"`
}

// DeleteSourceInput defines the input parameters for the delete_source tool.
type DeleteSourceInput struct {
	Source string `json:"source" jsonschema:"Source identifier whose chunks are removed"`
}

// DeleteSourceOutput confirms the deletion.
type DeleteSourceOutput struct {
	Source  string `json:"source"`
	Deleted bool   `json:"deleted"`
}
