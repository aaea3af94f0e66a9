package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFetcher points a fetcher at a fake GitHub API.
func newTestFetcher(t *testing.T, mux *http.ServeMux) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	return NewFetcher(&Client{Client: gh}, "acme", "manuals", "/docs/", ".pdf")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetcherList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/manuals/contents/docs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"type": "file", "name": "guide.pdf", "path": "docs/guide.pdf"},
			{"type": "file", "name": "README.md", "path": "docs/README.md"},
			{"type": "dir", "name": "hw", "path": "docs/hw"},
		})
	})
	mux.HandleFunc("/repos/acme/manuals/contents/docs/hw", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"type": "file", "name": "Board.PDF", "path": "docs/hw/Board.PDF"},
		})
	})

	docs, err := newTestFetcher(t, mux).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"guide.pdf", "hw/Board.PDF"}, docs)
}

func TestFetcherDownload(t *testing.T) {
	payload := []byte("%PDF-1.4 fake")
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/manuals/contents/docs/guide.pdf", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"type":     "file",
			"name":     "guide.pdf",
			"path":     "docs/guide.pdf",
			"sha":      "abc",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(payload),
		})
	})

	f := newTestFetcher(t, mux)
	data, err := f.Download(context.Background(), "guide.pdf")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "docs/guide.pdf", f.FullPath("guide.pdf"))
	assert.Equal(t, "acme/manuals", f.Repository())
}

func TestFetcherLatestCommit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/manuals/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docs", r.URL.Query().Get("path"))
		writeJSON(w, []map[string]any{{"sha": "deadbeef"}})
	})

	sha, err := newTestFetcher(t, mux).GetLatestCommitSHA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sha)
}

func TestFetcherListError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/manuals/contents/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	_, err := newTestFetcher(t, mux).List(context.Background())
	assert.Error(t, err)
}

func TestParseRepository(t *testing.T) {
	owner, repo, err := ParseRepository("acme/manuals")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "manuals", repo)

	for _, bad := range []string{"", "acme", "acme/", "/manuals", "a/b/c"} {
		_, _, err := ParseRepository(bad)
		assert.Error(t, err, bad)
	}
}
