package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdf-rag/internal/ragerr"
)

func TestExtractiveTruncatesTopContext(t *testing.T) {
	top := strings.Repeat("a", 2000)

	got, err := Extractive(1024).Compose(context.Background(), "q", []string{top, "second"})
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("a", 1024)+TruncationMarker, got)
	assert.Equal(t, 1024+len(TruncationMarker), utf8.RuneCountInString(got))
}

func TestExtractiveShortContextUnchanged(t *testing.T) {
	got, err := Extractive(0).Compose(context.Background(), "q", []string{"short answer", "other"})
	require.NoError(t, err)
	assert.Equal(t, "short answer", got)
}

func TestExtractiveNoContexts(t *testing.T) {
	got, err := Extractive(10).Compose(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, got)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"shorter", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"longer", "abcdefgh", 5, "abcde..."},
		{"multibyte counted as characters", "héllo wörld", 7, "héllo w..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.max))
		})
	}
}

func TestComposerFunc(t *testing.T) {
	var c Composer = ComposerFunc(func(_ context.Context, q string, contexts []string) (string, error) {
		return q + ":" + strings.Join(contexts, ","), nil
	})
	got, err := c.Compose(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "q:a,b", got)
}

// fakeChat serves /chat/completions with a fixed assistant message.
func fakeChat(t *testing.T, status int, content string, prompt *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && len(req.Messages) > 0 {
			*prompt = req.Messages[len(req.Messages)-1].Content
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"injected"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func newTestClient(url string) *openai.Client {
	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(url+"/v1"),
		option.WithMaxRetries(0),
	)
	return &client
}

func TestGenerativeCompose(t *testing.T) {
	var prompt string
	srv := fakeChat(t, http.StatusOK, `{"answer": "The warranty lasts two years."}`, &prompt)
	defer srv.Close()

	g := NewGenerative(newTestClient(srv.URL), "", 0, nil)
	got, err := g.Compose(context.Background(), "How long is the warranty?",
		[]string{"Warranty: two years.", "Returns: 30 days."})
	require.NoError(t, err)

	assert.Equal(t, "The warranty lasts two years.", got)
	assert.Contains(t, prompt, "How long is the warranty?")
	assert.Contains(t, prompt, "[1] Warranty: two years.")
	assert.Contains(t, prompt, "[2] Returns: 30 days.")
}

func TestGenerativeNoContexts(t *testing.T) {
	g := NewGenerative(nil, "", 0, nil)
	got, err := g.Compose(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, got)
}

func TestGenerativeErrors(t *testing.T) {
	var prompt string

	srv := fakeChat(t, http.StatusServiceUnavailable, "", &prompt)
	_, err := NewGenerative(newTestClient(srv.URL), "", 0, nil).Compose(context.Background(), "q", []string{"c"})
	srv.Close()
	require.Error(t, err)
	assert.True(t, ragerr.IsRetryable(err))

	assert.ErrorIs(t, err, ragerr.ErrGeneration)

	srv = fakeChat(t, http.StatusOK, "not json", &prompt)
	_, err = NewGenerative(newTestClient(srv.URL), "", 0, nil).Compose(context.Background(), "q", []string{"c"})
	srv.Close()
	require.Error(t, err)
	assert.False(t, ragerr.IsRetryable(err))
	assert.ErrorIs(t, err, ragerr.ErrGeneration)

	srv = fakeChat(t, http.StatusOK, `{"answer": "  "}`, &prompt)
	_, err = NewGenerative(newTestClient(srv.URL), "", 0, nil).Compose(context.Background(), "q", []string{"c"})
	srv.Close()
	assert.ErrorIs(t, err, ragerr.ErrGeneration)
}

func TestGenerativeNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-test","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewGenerative(newTestClient(srv.URL), "", 0, nil).Compose(context.Background(), "q", []string{"c"})
	assert.ErrorIs(t, err, ragerr.ErrGeneration)
	assert.False(t, ragerr.IsRetryable(err))
}

func TestFormatContextsBudget(t *testing.T) {
	g := NewGenerative(nil, "", 3, nil) // 12 characters

	got := g.formatContexts([]string{"first", "a much longer second context"})
	assert.Equal(t, "[1] first", got)
}
