package pipeline

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docland/docland/pkg/domain"
)

type fakeParser struct {
	parseFunc func(ctx context.Context, path string, meta *domain.DocumentMetadata) domain.ParserResult
	calls     int
}

func (f *fakeParser) Name() string                  { return "fake" }
func (f *fakeParser) SupportedExtensions() []string { return []string{".pdf"} }
func (f *fakeParser) IsAvailable(ctx context.Context) bool {
	return true
}

func (f *fakeParser) Parse(ctx context.Context, path string, meta *domain.DocumentMetadata) domain.ParserResult {
	f.calls++
	return f.parseFunc(ctx, path, meta)
}

type fakeArchive struct {
	archiveFunc func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult
	verifyFunc  func(ctx context.Context, documentID string, timeout time.Duration) bool
	lastRequest domain.ArchiveRequest
	calls       int
}

func (f *fakeArchive) Name() string       { return "fake" }
func (f *fakeArchive) IsConfigured() bool { return true }

func (f *fakeArchive) Archive(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
	f.calls++
	f.lastRequest = req
	return f.archiveFunc(ctx, req)
}

func (f *fakeArchive) Verify(ctx context.Context, documentID string, timeout time.Duration) bool {
	if f.verifyFunc != nil {
		return f.verifyFunc(ctx, documentID, timeout)
	}
	return true
}

type fakeRAG struct {
	ingestFunc   func(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) domain.RAGResult
	lastMetadata map[string]any
	lastPath     string
	lastColl     string
	calls        int
}

func (f *fakeRAG) Name() string                                { return "fake" }
func (f *fakeRAG) IsConfigured() bool                          { return true }
func (f *fakeRAG) IsAvailable(ctx context.Context) bool        { return true }
func (f *fakeRAG) TestConnection(ctx context.Context) error    { return nil }
func (f *fakeRAG) ListDocuments(ctx context.Context, collectionID string) ([]string, error) {
	return nil, nil
}

func (f *fakeRAG) Ingest(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) domain.RAGResult {
	f.calls++
	f.lastPath, f.lastMetadata, f.lastColl = contentPath, metadata, collectionID
	if f.ingestFunc != nil {
		return f.ingestFunc(ctx, contentPath, metadata, collectionID)
	}
	result, _ := domain.NewRAGSuccess(filepath.Base(contentPath), collectionID, "fake")
	return result
}

type fakeRenderer struct {
	fail  bool
	calls int
}

func (f *fakeRenderer) render(path, outputPath string) error {
	f.calls++
	if f.fail {
		return fmt.Errorf("renderer down")
	}
	return os.WriteFile(outputPath, []byte("%PDF-1.4"), 0644)
}

func (f *fakeRenderer) RenderMarkdown(ctx context.Context, path, outputPath string) error {
	return f.render(path, outputPath)
}

func (f *fakeRenderer) RenderHTML(ctx context.Context, path, outputPath string) error {
	return f.render(path, outputPath)
}

func (f *fakeRenderer) RenderOffice(ctx context.Context, path, outputPath string) error {
	return f.render(path, outputPath)
}

type sliceScraper struct {
	items   []map[string]any
	summary domain.ScraperSummary
	err     error
}

func (s *sliceScraper) Name() string { return "test-scraper" }

func (s *sliceScraper) Documents(ctx context.Context) iter.Seq[map[string]any] {
	return func(yield func(map[string]any) bool) {
		for _, item := range s.items {
			if !yield(item) {
				return
			}
		}
	}
}

func (s *sliceScraper) Summary() domain.ScraperSummary { return s.summary }
func (s *sliceScraper) Err() error                     { return s.err }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// parser fake that writes the markdown sidecar like the real backends do
func markdownWritingParser(t *testing.T, metadata map[string]any) *fakeParser {
	t.Helper()
	return &fakeParser{parseFunc: func(ctx context.Context, path string, meta *domain.DocumentMetadata) domain.ParserResult {
		mdPath := sidecarPath(path, ".md")
		require.NoError(t, os.WriteFile(mdPath, []byte("# T\n\nbody text"), 0644))
		result, err := domain.NewParserSuccess(mdPath, metadata, "fake")
		require.NoError(t, err)
		return result
	}}
}

func defaultOptions() Options {
	return Options{
		Source:         "test-scraper",
		ArchiveEnabled: true,
		RAGEnabled:     true,
		VerifyTimeout:  time.Second,
	}
}

func pdfItem(path string) map[string]any {
	return map[string]any{
		"title":      "T",
		"url":        "http://x/doc",
		"filename":   "doc.pdf",
		"local_path": path,
		"org":        "O",
		"date":       "2024-01-15",
	}
}

func TestHappyPDFPath(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "doc.pdf", "%PDF-1.4")

	parser := markdownWritingParser(t, map[string]any{"title": "T", "page_count": 3})
	archive := &fakeArchive{archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
		result, _ := domain.NewArchiveSuccess("task-1", "http://paperless/tasks/task-1", "fake")
		return result
	}}
	rag := &fakeRAG{}
	orch, err := NewOrchestrator(parser, archive, rag, nil, nil, nil, defaultOptions())
	require.NoError(t, err)

	result := Run(context.Background(), &sliceScraper{
		items:   []map[string]any{pdfItem(pdfPath)},
		summary: domain.ScraperSummary{Scraped: 1},
	}, orch)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Scraped)
	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 1, result.Verified)
	assert.Equal(t, 1, result.RAGIndexed)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)

	assert.NoFileExists(t, pdfPath, "original removed after verified archive")
	assert.NoFileExists(t, sidecarPath(pdfPath, ".md"), "markdown sidecar removed")

	assert.Equal(t, pdfPath, archive.lastRequest.Path, "pdf archives the original file")
	assert.Equal(t, "2024-01-15", archive.lastRequest.Created)
	assert.Equal(t, "O", archive.lastRequest.Correspondent)
	assert.Equal(t, "test-scraper", rag.lastColl)
	assert.Equal(t, "task-1", rag.lastMetadata["document_id"])
	assert.Equal(t, "test-scraper", rag.lastMetadata["source"])
}

func TestArchiveFailureAbortsDocument(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "doc.pdf", "%PDF-1.4")

	parser := markdownWritingParser(t, map[string]any{"title": "T"})
	archive := &fakeArchive{archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
		result, _ := domain.NewArchiveFailure("Service unavailable", "fake")
		return result
	}}
	rag := &fakeRAG{}
	orch, err := NewOrchestrator(parser, archive, rag, nil, nil, nil, defaultOptions())
	require.NoError(t, err)

	result := Run(context.Background(), &sliceScraper{items: []map[string]any{pdfItem(pdfPath)}}, orch)

	assert.Equal(t, domain.StatusPartial, result.Status)
	assert.Equal(t, 0, result.Parsed, "counters increment only after the archive step succeeds")
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, 0, result.RAGIndexed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"T: Service unavailable"}, result.Errors)
	assert.Equal(t, 0, rag.calls, "archive failure short-circuits the rag step")

	assert.FileExists(t, pdfPath, "files stay on disk after a failed document")
	assert.FileExists(t, sidecarPath(pdfPath, ".md"))
}

func TestRAGFailureIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "doc.pdf", "%PDF-1.4")

	parser := markdownWritingParser(t, nil)
	archive := &fakeArchive{archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
		result, _ := domain.NewArchiveSuccess("task-1", "", "fake")
		return result
	}}
	rag := &fakeRAG{ingestFunc: func(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) domain.RAGResult {
		result, _ := domain.NewRAGFailure("embedder down", "fake")
		return result
	}}
	orch, err := NewOrchestrator(parser, archive, rag, nil, nil, nil, defaultOptions())
	require.NoError(t, err)

	result := Run(context.Background(), &sliceScraper{items: []map[string]any{pdfItem(pdfPath)}}, orch)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 1, result.Verified)
	assert.Equal(t, 0, result.RAGIndexed)
	assert.Equal(t, 0, result.Failed)
}

func TestMarkdownFormatRouting(t *testing.T) {
	dir := t.TempDir()
	mdPath := writeFile(t, dir, "article.md", "# Article\n\nbody")

	parser := &fakeParser{parseFunc: func(ctx context.Context, path string, meta *domain.DocumentMetadata) domain.ParserResult {
		t.Fatal("parser must not be called for markdown input")
		return domain.ParserResult{}
	}}
	archive := &fakeArchive{archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
		result, _ := domain.NewArchiveSuccess("task-2", "", "fake")
		return result
	}}
	renderer := &fakeRenderer{}
	orch, err := NewOrchestrator(parser, archive, &fakeRAG{}, nil, renderer, nil, defaultOptions())
	require.NoError(t, err)

	item := map[string]any{
		"title": "Article", "url": "http://x/article",
		"filename": "article.md", "local_path": mdPath,
	}
	result := Run(context.Background(), &sliceScraper{items: []map[string]any{item}}, orch)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 0, parser.calls)
	assert.Equal(t, 1, renderer.calls)
	archivePDF := sidecarPath(mdPath, ".archive.pdf")
	assert.Equal(t, archivePDF, archive.lastRequest.Path, "archive receives the rendered pdf")

	assert.NoFileExists(t, mdPath)
	assert.NoFileExists(t, archivePDF, "generated pdf removed during cleanup")
}

func TestRendererFailureFallsBackToOriginal(t *testing.T) {
	dir := t.TempDir()
	mdPath := writeFile(t, dir, "article.md", "# Article")

	archive := &fakeArchive{archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
		result, _ := domain.NewArchiveSuccess("task-3", "", "fake")
		return result
	}}
	orch, err := NewOrchestrator(&fakeParser{}, archive, &fakeRAG{}, nil, &fakeRenderer{fail: true}, nil, defaultOptions())
	require.NoError(t, err)

	item := map[string]any{
		"title": "Article", "url": "http://x/article",
		"filename": "article.md", "local_path": mdPath,
	}
	result := Run(context.Background(), &sliceScraper{items: []map[string]any{item}}, orch)

	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, mdPath, archive.lastRequest.Path, "renderer failure archives the original")
}

func TestVerificationTimeout(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "doc.pdf", "%PDF-1.4")

	parser := markdownWritingParser(t, nil)
	archive := &fakeArchive{
		archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
			result, _ := domain.NewArchiveSuccess("task-1", "", "fake")
			return result
		},
		verifyFunc: func(ctx context.Context, documentID string, timeout time.Duration) bool {
			return false
		},
	}
	rag := &fakeRAG{}
	orch, err := NewOrchestrator(parser, archive, rag, nil, nil, nil, defaultOptions())
	require.NoError(t, err)

	result := Run(context.Background(), &sliceScraper{items: []map[string]any{pdfItem(pdfPath)}}, orch)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 0, result.Verified)
	assert.Equal(t, 1, result.RAGIndexed, "rag still runs after a verification timeout")
	assert.Equal(t, 0, result.Failed)

	assert.FileExists(t, pdfPath, "unverified documents keep their local files")
}

func TestDriverRejectsIncompleteItems(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "doc.pdf", "%PDF-1.4")

	archive := &fakeArchive{archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
		result, _ := domain.NewArchiveSuccess("task-1", "", "fake")
		return result
	}}
	orch, err := NewOrchestrator(markdownWritingParser(t, nil), archive, &fakeRAG{}, nil, nil, nil, defaultOptions())
	require.NoError(t, err)

	items := []map[string]any{
		{"url": "http://x/1", "filename": "a.pdf", "local_path": pdfPath},    // no title
		{"title": "B", "url": "http://x/2", "filename": "b.pdf"},             // no path
		{"title": "C", "url": "http://x/3", "filename": "c.pdf", "local_path": filepath.Join(dir, "gone.pdf")},
		pdfItem(pdfPath),
	}
	result := Run(context.Background(), &sliceScraper{items: items}, orch)

	assert.Equal(t, domain.StatusPartial, result.Status)
	assert.Equal(t, 4, result.Scraped)
	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, 3, result.Failed)
	assert.Len(t, result.Errors, 3)
}

func TestScraperFailureFailsRun(t *testing.T) {
	orch, err := NewOrchestrator(&fakeParser{}, &fakeArchive{
		archiveFunc: func(ctx context.Context, req domain.ArchiveRequest) domain.ArchiveResult {
			return domain.ArchiveResult{}
		},
	}, &fakeRAG{}, nil, nil, nil, defaultOptions())
	require.NoError(t, err)

	result := Run(context.Background(), &sliceScraper{err: fmt.Errorf("robots.txt forbids crawling")}, orch)
	assert.Equal(t, domain.StatusFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "robots.txt")
}

func TestNewOrchestratorValidation(t *testing.T) {
	parser := &fakeParser{}
	opts := defaultOptions()

	_, err := NewOrchestrator(nil, &fakeArchive{}, &fakeRAG{}, nil, nil, nil, opts)
	assert.Error(t, err, "parser is required")

	_, err = NewOrchestrator(parser, nil, &fakeRAG{}, nil, nil, nil, opts)
	assert.Error(t, err, "archive required when enabled")

	badTemplate := opts
	badTemplate.FilenameTemplate = "{bogus}"
	_, err = NewOrchestrator(parser, &fakeArchive{}, &fakeRAG{}, nil, nil, nil, badTemplate)
	assert.Error(t, err)

	badStrategy := opts
	badStrategy.MergeStrategy = "newest_wins"
	_, err = NewOrchestrator(parser, &fakeArchive{}, &fakeRAG{}, nil, nil, nil, badStrategy)
	assert.Error(t, err)
}

func TestArchiveDisabledCleanupAfterRAG(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "doc.pdf", "%PDF-1.4")

	opts := defaultOptions()
	opts.ArchiveEnabled = false
	orch, err := NewOrchestrator(markdownWritingParser(t, nil), nil, &fakeRAG{}, nil, nil, nil, opts)
	require.NoError(t, err)

	result := Run(context.Background(), &sliceScraper{items: []map[string]any{pdfItem(pdfPath)}}, orch)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, 1, result.RAGIndexed)
	assert.NoFileExists(t, pdfPath, "archive-disabled mode cleans up once rag succeeds")
}
