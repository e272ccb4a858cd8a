package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(name, typ string) map[string]any {
	return map[string]any{"name": name, "type": typ}
}

func newTestFetcher(t *testing.T, ref string) *Fetcher {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/manuals/contents/", func(w http.ResponseWriter, r *http.Request) {
		var body any
		switch r.URL.Path {
		case "/repos/acme/manuals/contents/docs":
			body = []any{
				entry("guide.pdf", "file"),
				entry("README.md", "file"),
				entry("SCAN.PDF", "file"),
				entry("archive", "dir"),
			}
		case "/repos/acme/manuals/contents/docs/archive":
			body = []any{entry("old.pdf", "file")}
		case "/repos/acme/manuals/contents/docs/guide.pdf":
			assert.Equal(t, ref, r.URL.Query().Get("ref"))
			body = map[string]any{
				"type":     "file",
				"name":     "guide.pdf",
				"encoding": "base64",
				"sha":      "blob123",
				"content":  base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake")),
			}
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/repos/acme/manuals/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docs", r.URL.Query().Get("path"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]any{map[string]any{"sha": "abc123"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient("")
	require.NoError(t, err)
	client, err = client.WithBaseURL(srv.URL)
	require.NoError(t, err)
	return NewFetcher(client, "acme", "manuals", ref, "/docs/")
}

func TestFetcher_ListFindsPDFsRecursively(t *testing.T) {
	f := newTestFetcher(t, "")

	docs, err := f.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"guide.pdf", "SCAN.PDF", "archive/old.pdf"}, docs)
}

func TestFetcher_Fetch(t *testing.T) {
	f := newTestFetcher(t, "v2")

	doc, err := f.Fetch(context.Background(), "guide.pdf")
	require.NoError(t, err)
	assert.Equal(t, "guide.pdf", doc.Path)
	assert.Equal(t, []byte("%PDF-1.4 fake"), doc.Content)
	assert.Equal(t, "blob123", doc.SHA)
	assert.Equal(t, "https://raw.githubusercontent.com/acme/manuals/v2/docs/guide.pdf", doc.URL)
}

func TestFetcher_FetchMissing(t *testing.T) {
	f := newTestFetcher(t, "")

	_, err := f.Fetch(context.Background(), "missing.pdf")
	assert.Error(t, err)
}

func TestFetcher_LatestCommitSHA(t *testing.T) {
	f := newTestFetcher(t, "")

	sha, err := f.LatestCommitSHA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)
}

func TestFetcher_Source(t *testing.T) {
	f := NewFetcher(nil, "acme", "manuals", "", "/docs/pdf/")
	assert.Equal(t, "acme/manuals/docs/pdf", f.Source())
}
