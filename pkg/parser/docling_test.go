package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoclingParse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/convert/file", r.URL.Path)
		require.Equal(t, "md", r.URL.Query().Get("to_formats"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"document": map[string]any{
				"md_content": "# Converted\n\nbody text",
				"metadata":   map[string]any{"title": "Converted"},
				"page_count": 3,
			},
		})
	}))
	defer server.Close()

	dir := t.TempDir()
	source := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF"), 0644))

	parser, err := NewDocling(server.URL, 5*time.Second)
	require.NoError(t, err)

	result := parser.Parse(context.Background(), source, nil)
	require.True(t, result.Success, "parse failed: %s", result.Error)
	assert.Equal(t, filepath.Join(dir, "doc.md"), result.ContentPath)
	assert.Equal(t, "docling", result.ParserName)
	assert.Equal(t, "Converted", result.Metadata["title"])
	assert.Equal(t, 3, result.Metadata["page_count"])

	content, err := os.ReadFile(result.ContentPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Converted")
}

func TestDoclingParseServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot convert", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	dir := t.TempDir()
	source := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF"), 0644))

	parser, err := NewDocling(server.URL, 5*time.Second)
	require.NoError(t, err)

	result := parser.Parse(context.Background(), source, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "422")
}

func TestDoclingParseEmptyMarkdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"document": map[string]any{"md_content": ""}})
	}))
	defer server.Close()

	dir := t.TempDir()
	source := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF"), 0644))

	parser, err := NewDocling(server.URL, 5*time.Second)
	require.NoError(t, err)

	result := parser.Parse(context.Background(), source, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "empty markdown")
}

func TestDoclingParseMissingFile(t *testing.T) {
	parser, err := NewDocling("http://localhost:5001", time.Second)
	require.NoError(t, err)

	result := parser.Parse(context.Background(), "/nonexistent/file.pdf", nil)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestDoclingIsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	parser, err := NewDocling(server.URL, time.Second)
	require.NoError(t, err)
	assert.True(t, parser.IsAvailable(context.Background()))
}

func TestMarkdownSidecarPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/tmp/doc.pdf", "/tmp/doc.md"},
		{"/tmp/page.html", "/tmp/page.md"},
		{"/tmp/article.md", "/tmp/article.md"},
		{"/tmp/noext", "/tmp/noext.md"},
	}
	for _, tt := range tests {
		if got := markdownSidecarPath(tt.in); got != tt.want {
			t.Errorf("markdownSidecarPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
