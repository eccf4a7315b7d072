package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
	"github.com/docland/docland/pkg/scraper"
)

// knownDocumentFields is the set of scraper item keys the driver accepts;
// anything else is dropped (and logged) before metadata construction.
var knownDocumentFields = map[string]bool{
	"title": true, "url": true, "filename": true,
	"local_path": true, "pdf_path": true,
	"date": true, "published": true,
	"org": true, "organization": true,
	"tags": true, "document_type": true, "author": true,
	"language": true, "description": true, "keywords": true,
	"image_url": true, "page_count": true, "extra": true,
}

// Run drains the scraper's document sequence, dispatching each item to the
// orchestrator strictly serially, and folds the scraper's terminal summary
// into the final result.
func Run(ctx context.Context, s scraper.Scraper, orch *Orchestrator) *domain.PipelineResult {
	logger := log.WithModule("pipeline")
	result := &domain.PipelineResult{Status: domain.StatusCompleted}
	start := time.Now()

	for item := range s.Documents(ctx) {
		result.Scraped++

		path, meta, err := buildDocument(item, logger)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			logger.Warn("dropping document", "error", err)
			continue
		}
		result.Downloaded++
		orch.ProcessDocument(ctx, path, meta, result)
	}

	summary := s.Summary()
	if summary.Scraped > result.Scraped {
		result.Scraped = summary.Scraped
	}
	result.Errors = append(result.Errors, summary.Errors...)

	switch {
	case s.Err() != nil:
		result.Status = domain.StatusFailed
		result.Errors = append(result.Errors, fmt.Sprintf("scraper %s: %v", s.Name(), s.Err()))
	case result.Failed > 0:
		result.Status = domain.StatusPartial
	default:
		result.Status = domain.StatusCompleted
	}
	result.Duration = time.Since(start)

	logger.Info("run finished",
		"scraper", s.Name(), "status", result.Status,
		"scraped", result.Scraped, "downloaded", result.Downloaded,
		"parsed", result.Parsed, "archived", result.Archived,
		"verified", result.Verified, "rag_indexed", result.RAGIndexed,
		"failed", result.Failed, "skipped", summary.Skipped,
		"duration", result.Duration.Round(time.Millisecond))
	return result
}

// buildDocument filters a scraper item to the known field set, validates the
// required fields, and reconstructs the metadata record plus the on-disk
// path.
func buildDocument(item map[string]any, logger *slog.Logger) (string, *domain.DocumentMetadata, error) {
	var dropped []string
	for key := range item {
		if !knownDocumentFields[key] {
			dropped = append(dropped, key)
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		logger.Debug("dropping unknown document fields", "fields", dropped)
	}

	title := stringOf(item["title"])
	url := stringOf(item["url"])
	filename := stringOf(item["filename"])
	path := stringOf(item["local_path"])
	if path == "" {
		path = stringOf(item["pdf_path"])
	}

	switch {
	case title == "":
		return "", nil, fmt.Errorf("document missing title (url=%s)", url)
	case url == "":
		return "", nil, fmt.Errorf("%s: document missing url", title)
	case filename == "":
		return "", nil, fmt.Errorf("%s: document missing filename", title)
	case path == "":
		return "", nil, fmt.Errorf("%s: document missing local_path or pdf_path", title)
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil, fmt.Errorf("%s: local file %s not found", title, path)
	}

	meta := &domain.DocumentMetadata{
		URL:          url,
		Title:        title,
		Filename:     filename,
		Published:    coalesce(stringOf(item["date"]), stringOf(item["published"])),
		Organization: coalesce(stringOf(item["org"]), stringOf(item["organization"])),
		DocumentType: stringOf(item["document_type"]),
		Author:       stringOf(item["author"]),
		Language:     stringOf(item["language"]),
		Description:  stringOf(item["description"]),
		ImageURL:     stringOf(item["image_url"]),
		Tags:         stringsOf(item["tags"]),
		Keywords:     stringsOf(item["keywords"]),
	}
	if n, ok := intOf(item["page_count"]); ok {
		meta.PageCount = n
	}
	if extra, ok := item["extra"].(map[string]any); ok {
		meta.Extra = extra
	}
	if err := meta.Validate(); err != nil {
		return "", nil, err
	}
	return path, meta, nil
}
