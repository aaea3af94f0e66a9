package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// DefaultMaxTokens is the context budget before truncation (in tokens).
const DefaultMaxTokens = 16000

// generatedAnswer is the JSON object the chat model is asked to return.
type generatedAnswer struct {
	Answer string `json:"answer"`
}

// Generative synthesizes an answer from the retrieved contexts with a chat model.
type Generative struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerative creates a generative composer. An empty model selects gpt-4o;
// maxTokens <= 0 selects DefaultMaxTokens.
func NewGenerative(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *Generative {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generative{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Compose implements Composer.
func (g *Generative) Compose(ctx context.Context, question string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return NoContextAnswer, nil
	}

	prompt := fmt.Sprintf(`Answer the question using only the numbered document excerpts below.
If the excerpts do not contain the answer, say so briefly.

Question: %s

Excerpts:
%s

Respond in JSON format:
{"answer": "Your answer"}`, question, g.formatContexts(contexts))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You answer questions about ingested PDF documents."),
			openai.UserMessage(prompt),
		},
		Model: g.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return "", classifyChatError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", ragerr.ErrGeneration)
	}

	var out generatedAnswer
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %w", ragerr.ErrGeneration, err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return "", fmt.Errorf("%w: chat completion returned an empty answer", ragerr.ErrGeneration)
	}

	return out.Answer, nil
}

// formatContexts numbers the contexts and drops those past the token budget.
// Uses rough estimate of 4 characters per token.
func (g *Generative) formatContexts(contexts []string) string {
	maxChars := g.maxTokens * 4

	var b strings.Builder
	for i, c := range contexts {
		entry := fmt.Sprintf("[%d] %s\n\n", i+1, c)
		if b.Len() > 0 && b.Len()+len(entry) > maxChars {
			g.logger.Warn("dropping contexts over token budget",
				"kept", i, "dropped", len(contexts)-i, "max_tokens", g.maxTokens)
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimSpace(b.String())
}

// classifyChatError marks rate limits, server errors and transport failures retryable.
func classifyChatError(err error) error {
	wrapped := fmt.Errorf("%w: chat completion failed: %w", ragerr.ErrGeneration, err)

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return ragerr.Retryable(wrapped)
		}
		return wrapped
	}
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	return ragerr.Retryable(wrapped)
}
