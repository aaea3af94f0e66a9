package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/pdf-rag/internal/pipeline"
)

// makeIngestHandler creates the ingest_pdf tool handler.
// The run id is generated here so the caller can resume a failed run.
func makeIngestHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, IngestPDFInput,
) (*mcp.CallToolResult, IngestPDFOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestPDFInput) (
		*mcp.CallToolResult, IngestPDFOutput, error,
	) {
		runID := input.RunID
		if runID == "" {
			runID = uuid.NewString()
		}

		result, err := p.Ingest(ctx, runID, pipeline.IngestRequest{
			PDFPath:  input.PDFPath,
			SourceID: input.SourceID,
		})
		if err != nil {
			return nil, IngestPDFOutput{}, fmt.Errorf("ingest failed (run %s): %w", runID, err)
		}

		return nil, IngestPDFOutput{Ingested: result.Ingested, RunID: runID}, nil
	}
}

// makeQueryHandler creates the query_docs tool handler.
func makeQueryHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, QueryDocsInput,
) (*mcp.CallToolResult, QueryDocsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryDocsInput) (
		*mcp.CallToolResult, QueryDocsOutput, error,
	) {
		result, err := p.Query(ctx, "", pipeline.QueryRequest{
			Question: input.Question,
			TopK:     input.TopK,
		})
		if err != nil {
			return nil, QueryDocsOutput{}, fmt.Errorf("query failed: %w", err)
		}

		sources := result.Sources
		if sources == nil {
			sources = []string{} // Ensure non-nil for JSON marshaling
		}
		out := QueryDocsOutput{
			Answer:      result.Answer,
			Sources:     sources,
			NumContexts: result.NumContexts,
		}
		if result.NumContexts == 0 {
			out.Message = "No matching chunks found. Ingest documents first or rephrase the question."
		}
		return nil, out, nil
	}
}

// makeInfoHandler creates the collection_info tool handler.
func makeInfoHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, CollectionInfoInput,
) (*mcp.CallToolResult, CollectionInfoOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CollectionInfoInput) (
		*mcp.CallToolResult, CollectionInfoOutput, error,
	) {
		info, err := p.Info(ctx)
		if err != nil {
			return nil, CollectionInfoOutput{}, fmt.Errorf("store_error: failed to get collection info: %w", err)
		}
		return nil, CollectionInfoOutput{
			Collection: info.Name,
			Dimension:  info.Dimension,
			Points:     info.Points,
		}, nil
	}
}

// makeDeleteHandler creates the delete_source tool handler.
func makeDeleteHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, DeleteSourceInput,
) (*mcp.CallToolResult, DeleteSourceOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DeleteSourceInput) (
		*mcp.CallToolResult, DeleteSourceOutput, error,
	) {
		if err := p.DeleteSource(ctx, input.Source); err != nil {
			return nil, DeleteSourceOutput{}, fmt.Errorf("delete failed: %w", err)
		}
		return nil, DeleteSourceOutput{Source: input.Source, Deleted: true}, nil
	}
}
