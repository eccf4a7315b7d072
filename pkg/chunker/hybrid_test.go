package chunker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func hybridServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHybridChunkMapsResponse(t *testing.T) {
	srv := hybridServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chunk/hybrid/file" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("chunking_max_tokens"); got != "128" {
			t.Errorf("chunking_max_tokens = %s", got)
		}
		if got := r.URL.Query().Get("chunking_include_raw_text"); got != "true" {
			t.Errorf("chunking_include_raw_text = %s", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("multipart: %v", err)
		}
		if _, _, err := r.FormFile("files"); err != nil {
			t.Errorf("missing files field: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]any{
				{
					"text":        "contextualized alpha",
					"raw_text":    "alpha body",
					"headings":    []string{"Doc Title", "Alpha"},
					"num_tokens":  7,
					"chunk_index": 0,
				},
				{
					"text":        "beta body no raw",
					"headings":    []string{},
					"num_tokens":  5,
					"chunk_index": 1,
				},
			},
		})
	})

	c, err := NewHybrid(srv.URL, 5*time.Second, 128, 16)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Chunk(context.Background(), "some markdown body", map[string]any{"source": "s"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}

	if chunks[0].Content != "alpha body" {
		t.Errorf("chunk 0 content = %q, want raw_text", chunks[0].Content)
	}
	if chunks[0].Metadata["heading_context"] != "Alpha" {
		t.Errorf("chunk 0 heading = %v, want last heading", chunks[0].Metadata["heading_context"])
	}
	if chunks[0].Metadata["num_tokens"] != 7 {
		t.Errorf("chunk 0 num_tokens = %v", chunks[0].Metadata["num_tokens"])
	}
	if chunks[0].Metadata["source"] != "s" {
		t.Error("caller metadata not copied")
	}

	if chunks[1].Content != "beta body no raw" {
		t.Errorf("chunk 1 content = %q, want text when raw_text missing", chunks[1].Content)
	}
	if chunks[1].Index != 1 || chunks[1].Metadata["chunk_index"] != 1 {
		t.Errorf("chunk 1 index = %d/%v", chunks[1].Index, chunks[1].Metadata["chunk_index"])
	}
	if _, ok := chunks[1].Metadata["heading_context"]; ok {
		t.Error("empty headings should not set heading_context")
	}
}

func TestHybridFallsBackOnServerError(t *testing.T) {
	srv := hybridServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaboom", http.StatusInternalServerError)
	})

	c, err := NewHybrid(srv.URL, 5*time.Second, 6, 2)
	if err != nil {
		t.Fatal(err)
	}
	text := words(20)
	chunks, err := c.Chunk(context.Background(), text, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("fallback produced no chunks")
	}
	for _, ch := range chunks {
		if n := len(strings.Fields(ch.Content)); n > 6 {
			t.Errorf("fallback chunk has %d words, max 6", n)
		}
	}
}

func TestHybridFallsBackOnEmptyAndMalformed(t *testing.T) {
	cases := map[string]string{
		"empty chunk list": `{"chunks": []}`,
		"not json":         `<html>gateway error</html>`,
		"chunk without content": `{"chunks": [{"chunk_index": 0, "num_tokens": 3}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			srv := hybridServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			})
			c, err := NewHybrid(srv.URL, 5*time.Second, 10, 0)
			if err != nil {
				t.Fatal(err)
			}
			chunks, err := c.Chunk(context.Background(), words(15), nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) != 2 {
				t.Errorf("fallback chunks = %d, want 2", len(chunks))
			}
		})
	}
}

func TestHybridFallsBackWhenUnreachable(t *testing.T) {
	c, err := NewHybrid("http://127.0.0.1:1", 200*time.Millisecond, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Chunk(context.Background(), words(5), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Errorf("chunks = %d, want 1 from fallback", len(chunks))
	}
}

func TestHybridEmptyInput(t *testing.T) {
	c, err := NewHybrid("http://127.0.0.1:1", time.Second, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Chunk(context.Background(), "  \n ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %d, want 0", len(chunks))
	}
}

func TestNewHybridRequiresURL(t *testing.T) {
	if _, err := NewHybrid("", time.Second, 10, 0); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewHybrid("http://x", time.Second, 0, 0); err == nil {
		t.Error("expected error for bad window params")
	}
}
