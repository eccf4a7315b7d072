package scraper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDir(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("content"), 0644))
	}
	return root
}

func drain(t *testing.T, d *Directory) []map[string]any {
	t.Helper()
	var docs []map[string]any
	for doc := range d.Documents(context.Background()) {
		docs = append(docs, doc)
	}
	return docs
}

func TestDirectoryYieldsIngestibleFiles(t *testing.T) {
	root := seedDir(t, "report.pdf", "notes.md", "image.png", "sub/page.html")
	d := NewDirectory("local", root, "", "Acme")

	docs := drain(t, d)

	require.NoError(t, d.Err())
	require.Len(t, docs, 3)
	summary := d.Summary()
	assert.Equal(t, 3, summary.Scraped)
	assert.Equal(t, 1, summary.Skipped, "png is not ingestible")

	byName := map[string]map[string]any{}
	for _, doc := range docs {
		byName[doc["filename"].(string)] = doc
	}
	report := byName["report.pdf"]
	require.NotNil(t, report)
	assert.Equal(t, "report", report["title"])
	assert.Equal(t, "Acme", report["organization"])
	assert.Equal(t, filepath.Join(root, "report.pdf"), report["local_path"])
	assert.Equal(t, "file://"+filepath.Join(root, "report.pdf"), report["url"])
}

func TestDirectoryBaseURL(t *testing.T) {
	root := seedDir(t, "sub/page.html")
	d := NewDirectory("local", root, "https://example.org/docs/", "")

	docs := drain(t, d)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://example.org/docs/sub/page.html", docs[0]["url"])
	_, hasOrg := docs[0]["organization"]
	assert.False(t, hasOrg)
}

func TestDirectoryMissingRoot(t *testing.T) {
	d := NewDirectory("local", filepath.Join(t.TempDir(), "nope"), "", "")
	docs := drain(t, d)
	assert.Empty(t, docs)
	assert.Error(t, d.Err())
}

func TestDirectoryEarlyStop(t *testing.T) {
	root := seedDir(t, "a.md", "b.md", "c.md")
	d := NewDirectory("local", root, "", "")

	count := 0
	for range d.Documents(context.Background()) {
		count++
		if count == 1 {
			break
		}
	}
	assert.Equal(t, 1, count)
}
