package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/bull/pdf-rag/internal/answer"
	"github.com/bull/pdf-rag/internal/ragerr"
	"github.com/bull/pdf-rag/internal/workflow"
)

// Query runs the query workflow under runID (empty for a new run):
// embed-query, search, then compose-answer.
func (p *Pipeline) Query(ctx context.Context, runID string, req QueryRequest) (QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return QueryResult{}, fmt.Errorf("%w: question is required", ragerr.ErrValidation)
	}
	topK := req.TopK
	if topK < 0 {
		return QueryResult{}, fmt.Errorf("%w: top_k must be positive, got %d", ragerr.ErrValidation, topK)
	}
	if topK == 0 {
		topK = p.topK
	}

	run := p.host.Start(runID)

	vector, err := workflow.Step(ctx, run, StepEmbedQuery, func(ctx context.Context) ([]float32, error) {
		return p.EmbedQuery(ctx, question)
	})
	if err != nil {
		return QueryResult{}, err
	}

	found, err := workflow.Step(ctx, run, StepSearch, func(ctx context.Context) (SearchResult, error) {
		return p.Search(ctx, vector, topK)
	})
	if err != nil {
		return QueryResult{}, err
	}

	result, err := workflow.Step(ctx, run, StepComposeAnswer, func(ctx context.Context) (QueryResult, error) {
		return p.ComposeAnswer(ctx, question, found)
	})
	if err != nil {
		return QueryResult{}, err
	}

	p.complete(ctx, run)
	p.logger.Info("Answered query", "run", run.ID(), "contexts", result.NumContexts, "sources", len(result.Sources))
	return result, nil
}

// EmbedQuery embeds the question with the ingestion embedder.
func (p *Pipeline) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	vectors, err := p.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", ragerr.ErrEmbedding, len(vectors))
	}
	return vectors[0], nil
}

// Search retrieves up to topK contexts. The collection is created if absent
// so querying before any ingestion yields no contexts rather than an error.
// Hits without payload text are dropped along with their source.
func (p *Pipeline) Search(ctx context.Context, vector []float32, topK int) (SearchResult, error) {
	if err := p.store.EnsureCollection(ctx); err != nil {
		return SearchResult{}, err
	}

	hits, err := p.store.Search(ctx, vector, topK)
	if err != nil {
		return SearchResult{}, err
	}

	result := SearchResult{
		Contexts: make([]string, 0, len(hits)),
		Sources:  []string{},
	}
	seen := make(map[string]bool)
	for _, hit := range hits {
		text := hit.Text()
		if text == "" {
			continue
		}
		result.Contexts = append(result.Contexts, text)
		if src := hit.Source(); src != "" && !seen[src] {
			seen[src] = true
			result.Sources = append(result.Sources, src)
		}
	}
	return result, nil
}

// ComposeAnswer shapes the response. With no contexts it returns the fixed
// fallback answer; otherwise the configured composer writes the answer.
func (p *Pipeline) ComposeAnswer(ctx context.Context, question string, found SearchResult) (QueryResult, error) {
	sources := found.Sources
	if sources == nil {
		sources = []string{}
	}

	if len(found.Contexts) == 0 {
		return QueryResult{
			Answer:      answer.NoContextAnswer,
			Sources:     []string{},
			NumContexts: 0,
		}, nil
	}

	text, err := p.composer.Compose(ctx, question, found.Contexts)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Answer:      text,
		Sources:     sources,
		NumContexts: len(found.Contexts),
	}, nil
}
