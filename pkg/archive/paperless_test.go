package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docland/docland/pkg/domain"
)

func domainArchiveRequest(path string) domain.ArchiveRequest {
	return domain.ArchiveRequest{
		Path:     path,
		Title:    "T",
		Created:  "2024-01-15T10:00:00Z",
		Tags:     []string{"a", "b"},
		Metadata: map[string]any{"source_url": "http://x/doc"},
	}
}

func writeTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0644))
	return path
}

func newTestPaperless(serverURL string) *Paperless {
	p := NewPaperless(serverURL, "token-1", 5*time.Second)
	p.pollInterval = 5 * time.Millisecond
	return p
}

func TestArchiveUpload(t *testing.T) {
	var gotTitle, gotCreated string
	var gotTags []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents/post_document/", r.URL.Path)
		require.Equal(t, "Token token-1", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotTitle = r.FormValue("title")
		gotCreated = r.FormValue("created")
		gotTags = r.MultipartForm.Value["tags"]
		_ = json.NewEncoder(w).Encode("task-uuid-1")
	}))
	defer server.Close()

	p := newTestPaperless(server.URL)
	result := p.Archive(context.Background(), domainArchiveRequest(writeTempFile(t)))

	require.True(t, result.Success, "archive failed: %s", result.Error)
	assert.Equal(t, "task-uuid-1", result.DocumentID)
	assert.Equal(t, "T", gotTitle)
	assert.Equal(t, "2024-01-15T10:00:00+00:00", gotCreated, "trailing Z must normalize")
	assert.Equal(t, []string{"a", "b"}, gotTags)
	assert.Equal(t, 1, p.pending.len(), "metadata must be stashed for verification")
}

func TestArchiveEmptyTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode("")
	}))
	defer server.Close()

	p := newTestPaperless(server.URL)
	result := p.Archive(context.Background(), domainArchiveRequest(writeTempFile(t)))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no task id")
}

func TestArchiveBadCreatedDateContinues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.FormValue("created"))
		_ = json.NewEncoder(w).Encode("task-2")
	}))
	defer server.Close()

	p := newTestPaperless(server.URL)
	req := domainArchiveRequest(writeTempFile(t))
	req.Created = "not-a-date"
	result := p.Archive(context.Background(), req)
	assert.True(t, result.Success)
}

func TestArchiveNotConfigured(t *testing.T) {
	p := NewPaperless("", "", time.Second)
	result := p.Archive(context.Background(), domainArchiveRequest("/tmp/whatever.pdf"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not configured")
}

func TestArchiveMissingFile(t *testing.T) {
	p := NewPaperless("http://localhost:8000", "tok", time.Second)
	result := p.Archive(context.Background(), domainArchiveRequest("/nonexistent.pdf"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestVerifyAppliesCustomFields(t *testing.T) {
	polls := 0
	var patched map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/tasks/":
			polls++
			if polls < 2 {
				_ = json.NewEncoder(w).Encode([]map[string]any{{"status": "PENDING"}})
				return
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"status": "SUCCESS", "related_document": 42},
			})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/documents/42/":
			_ = json.NewDecoder(r.Body).Decode(&patched)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestPaperless(server.URL)
	p.pending.put("task-1", map[string]any{"source_url": "http://x/doc"})

	verified := p.Verify(context.Background(), "task-1", time.Second)

	assert.True(t, verified)
	assert.GreaterOrEqual(t, polls, 2)
	require.NotNil(t, patched)
	fields := patched["custom_fields"].(map[string]any)
	assert.Equal(t, "http://x/doc", fields["source_url"])
	assert.Equal(t, 0, p.pending.len(), "pending entry must clear after verify")
}

func TestVerifyTimeoutClearsPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"status": "PENDING"}})
	}))
	defer server.Close()

	p := newTestPaperless(server.URL)
	p.pending.put("task-1", map[string]any{"k": "v"})

	verified := p.Verify(context.Background(), "task-1", 20*time.Millisecond)

	assert.False(t, verified)
	assert.Equal(t, 0, p.pending.len(), "pending entry must clear even on timeout")
}

func TestVerifyCustomFieldFailureDoesNotChangeResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			http.Error(w, "bad fields", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"status": "SUCCESS", "related_document": 7},
		})
	}))
	defer server.Close()

	p := newTestPaperless(server.URL)
	p.pending.put("task-1", map[string]any{"k": "v"})

	assert.True(t, p.Verify(context.Background(), "task-1", time.Second))
}

func TestNormalizeCreated(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2024-01-15T10:00:00Z", "2024-01-15T10:00:00+00:00"},
		{"2024-01-15T10:00:00+02:00", "2024-01-15T10:00:00+02:00"},
		{"2024-01-15", "2024-01-15"},
		{"yesterday", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeCreated(tt.in); got != tt.want {
			t.Errorf("normalizeCreated(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPendingMetadataEviction(t *testing.T) {
	pending := newPendingMetadata()
	for i := 0; i < pendingCap+10; i++ {
		pending.put(fmt.Sprintf("task-%d", i), map[string]any{"i": i})
	}

	assert.Equal(t, pendingCap, pending.len())
	_, ok := pending.take("task-0")
	assert.False(t, ok, "oldest entries must be evicted")
	got, ok := pending.take(fmt.Sprintf("task-%d", pendingCap+9))
	assert.True(t, ok)
	assert.Equal(t, pendingCap+9, got["i"])
}
