package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

// DoclingParser converts documents to markdown through a document-structure
// server: POST /v1/convert/file with to_formats=md.
type DoclingParser struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewDocling(baseURL string, timeout time.Duration) (*DoclingParser, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: docling parser requires a url", domain.ErrConfigurationError)
	}
	return &DoclingParser{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithModule("parser"),
	}, nil
}

func (p *DoclingParser) Name() string { return "docling" }

func (p *DoclingParser) SupportedExtensions() []string {
	return []string{".pdf", ".html", ".htm", ".docx", ".pptx", ".xlsx"}
}

func (p *DoclingParser) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type doclingResponse struct {
	Document struct {
		MDContent string         `json:"md_content"`
		Metadata  map[string]any `json:"metadata"`
		PageCount int            `json:"page_count"`
	} `json:"document"`
}

// Parse uploads the file and writes the returned markdown next to it. All
// failures land in the result; parse errors are fatal per document, not per
// run, so nothing here panics or aborts.
func (p *DoclingParser) Parse(ctx context.Context, path string, meta *domain.DocumentMetadata) domain.ParserResult {
	file, err := os.Open(path)
	if err != nil {
		return failure(fmt.Sprintf("open %s: %v", path, err), p.Name())
	}
	defer func() { _ = file.Close() }()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return failure(err.Error(), p.Name())
	}
	if _, err := io.Copy(part, file); err != nil {
		return failure(fmt.Sprintf("read %s: %v", path, err), p.Name())
	}
	if err := writer.Close(); err != nil {
		return failure(err.Error(), p.Name())
	}

	endpoint := p.baseURL + "/v1/convert/file?" + url.Values{"to_formats": {"md"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return failure(err.Error(), p.Name())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("convert request: %v", err), p.Name())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failure(fmt.Sprintf("parser server returned %d: %s", resp.StatusCode, string(snippet)), p.Name())
	}

	var parsed doclingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return failure(fmt.Sprintf("decode convert response: %v", err), p.Name())
	}
	if strings.TrimSpace(parsed.Document.MDContent) == "" {
		return failure("parser server returned empty markdown", p.Name())
	}

	contentPath := markdownSidecarPath(path)
	if err := os.WriteFile(contentPath, []byte(parsed.Document.MDContent), 0644); err != nil {
		return failure(fmt.Sprintf("write %s: %v", contentPath, err), p.Name())
	}

	metadata := make(map[string]any, len(parsed.Document.Metadata)+1)
	for k, v := range parsed.Document.Metadata {
		metadata[k] = v
	}
	if parsed.Document.PageCount > 0 {
		metadata["page_count"] = parsed.Document.PageCount
	}

	result, err := domain.NewParserSuccess(contentPath, metadata, p.Name())
	if err != nil {
		return failure(err.Error(), p.Name())
	}
	p.logger.Debug("parsed document", "path", path, "content_path", contentPath)
	return result
}

// markdownSidecarPath is where extracted markdown lands for a source file:
// the same basename with a .md extension.
func markdownSidecarPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".md"
}

func failure(message, name string) domain.ParserResult {
	result, err := domain.NewParserFailure(message, name)
	if err != nil {
		// Unreachable: message is always non-empty here.
		return domain.ParserResult{Success: false, Error: "parse failed", ParserName: name}
	}
	return result
}
