package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/pdf-rag/internal/pipeline"
)

// Pipeline is the subset of *pipeline.Pipeline the tools call.
type Pipeline interface {
	Ingest(ctx context.Context, runID string, req pipeline.IngestRequest) (pipeline.IngestResult, error)
	Query(ctx context.Context, runID string, req pipeline.QueryRequest) (pipeline.QueryResult, error)
	Info(ctx context.Context) (pipeline.CollectionInfo, error)
	DeleteSource(ctx context.Context, source string) error
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server   *mcp.Server
	pipeline Pipeline
}

// Config holds server dependencies.
type Config struct {
	Pipeline Pipeline
	Version  string // defaults to v0.1.0
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "pdf-rag",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_pdf",
		Description: "Extract, chunk, embed and store a PDF so it can be queried. Re-ingesting the same source replaces its chunks.",
	}, makeIngestHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_docs",
		Description: "Answer a question from the ingested documents. Returns the answer, the distinct sources used and the number of retrieved chunks.",
	}, makeQueryHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "collection_info",
		Description: "Report the vector collection name, embedding dimension and number of stored chunks.",
	}, makeInfoHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_source",
		Description: "Remove every stored chunk of one source document.",
	}, makeDeleteHandler(cfg.Pipeline))

	return &Server{
		server:   server,
		pipeline: cfg.Pipeline,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
