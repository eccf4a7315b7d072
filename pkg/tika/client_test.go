package tika

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

func TestNormalizeMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want map[string]any
	}{
		{
			name: "dublin core fields",
			raw: map[string]any{
				"dc:title":        "Quarterly Report",
				"dc:creator":      "J. Doe",
				"dcterms:created": "2024-01-15T10:00:00Z",
				"Content-Type":    "application/pdf",
				"meta:page-count": "12",
			},
			want: map[string]any{
				"title":         "Quarterly Report",
				"author":        "J. Doe",
				"creation_date": "2024-01-15T10:00:00Z",
				"content_type":  "application/pdf",
				"page_count":    12,
			},
		},
		{
			name: "dc creator beats meta author",
			raw: map[string]any{
				"dc:creator":  "Primary",
				"meta:author": "Secondary",
			},
			want: map[string]any{"author": "Primary"},
		},
		{
			name: "meta author fills when dc absent",
			raw:  map[string]any{"meta:author": "Secondary"},
			want: map[string]any{"author": "Secondary"},
		},
		{
			name: "page count from xmpTPg numeric",
			raw:  map[string]any{"xmpTPg:NPages": float64(7)},
			want: map[string]any{"page_count": 7},
		},
		{
			name: "unparseable page count dropped",
			raw:  map[string]any{"meta:page-count": "lots"},
			want: map[string]any{},
		},
		{
			name: "list values take first element",
			raw:  map[string]any{"dc:title": []any{"First", "Second"}},
			want: map[string]any{"title": "First"},
		},
		{
			name: "empty strings dropped",
			raw:  map[string]any{"dc:title": "   "},
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMetadata(tt.raw))
		})
	}
}

func TestClientExtractMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/meta", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"dc:title":        "T",
			"xmpTPg:NPages":   "3",
			"ignored:field":   "x",
			"Content-Type":    "text/html",
		})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "doc.html")
	require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0644))

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	meta, err := client.ExtractMetadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "T", meta["title"])
	assert.Equal(t, 3, meta["page_count"])
	assert.Equal(t, "text/html", meta["content_type"])
	assert.NotContains(t, meta, "ignored:field")
}

func TestClientExtractText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tika", r.URL.Path)
		_, _ = w.Write([]byte("extracted body"))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "doc.docx")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0644))

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	text, err := client.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "extracted body", text)
}

func TestClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.ExtractText(context.Background(), path)
	assert.Error(t, err)
	_, err = client.ExtractMetadata(context.Background(), path)
	assert.Error(t, err)
}
