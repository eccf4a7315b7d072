package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	pdf "github.com/dslipak/pdf"
	readability "github.com/go-shiori/go-readability"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

// NativeParser extracts text locally: PDFs through a pure-Go reader, HTML
// through readability plus markdown conversion, markdown and plain text as
// passthrough. It needs no external service, which makes it the fallback
// when no parser server is configured.
type NativeParser struct {
	logger *slog.Logger
}

func NewNative() *NativeParser {
	return &NativeParser{logger: log.WithModule("parser")}
}

func (p *NativeParser) Name() string { return "native" }

func (p *NativeParser) SupportedExtensions() []string {
	return []string{".pdf", ".html", ".htm", ".md", ".markdown", ".txt"}
}

// IsAvailable is always true: there is no service to probe.
func (p *NativeParser) IsAvailable(ctx context.Context) bool { return true }

func (p *NativeParser) Parse(ctx context.Context, path string, meta *domain.DocumentMetadata) domain.ParserResult {
	var content string
	var metadata map[string]any
	var err error

	switch domain.ClassifyPath(path) {
	case domain.DocTypePDF:
		content, metadata, err = p.extractPDF(path)
	case domain.DocTypeHTML:
		content, metadata, err = p.extractHTML(path, meta)
	case domain.DocTypeMarkdown, domain.DocTypeOther:
		content, metadata, err = p.extractText(path)
	default:
		err = fmt.Errorf("native parser cannot handle %s", filepath.Ext(path))
	}
	if err != nil {
		return failure(err.Error(), p.Name())
	}
	if strings.TrimSpace(content) == "" {
		return failure(fmt.Sprintf("no text extracted from %s", path), p.Name())
	}

	contentPath := markdownSidecarPath(path)
	if contentPath == path {
		// Markdown input is already the canonical form.
		result, resErr := domain.NewParserSuccess(path, metadata, p.Name())
		if resErr != nil {
			return failure(resErr.Error(), p.Name())
		}
		return result
	}

	if err := os.WriteFile(contentPath, []byte(content), 0644); err != nil {
		return failure(fmt.Sprintf("write %s: %v", contentPath, err), p.Name())
	}

	result, resErr := domain.NewParserSuccess(contentPath, metadata, p.Name())
	if resErr != nil {
		return failure(resErr.Error(), p.Name())
	}
	p.logger.Debug("parsed document locally", "path", path, "content_path", contentPath)
	return result
}

func (p *NativeParser) extractPDF(path string) (string, map[string]any, error) {
	reader, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf %s: %w", path, err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("failed to extract pdf page", "path", path, "page", i, "error", err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	metadata := map[string]any{"page_count": reader.NumPage()}
	return sb.String(), metadata, nil
}

func (p *NativeParser) extractHTML(path string, meta *domain.DocumentMetadata) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}

	metadata := make(map[string]any)
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw))); err == nil {
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			metadata["title"] = title
		}
		doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
			name, _ := sel.Attr("name")
			value, _ := sel.Attr("content")
			value = strings.TrimSpace(value)
			if value == "" {
				return
			}
			switch strings.ToLower(name) {
			case "author":
				metadata["author"] = value
			case "description":
				metadata["description"] = value
			case "keywords":
				metadata["keywords"] = value
			}
		})
	}

	// Readability isolates the main content; fall back to the whole page
	// when it cannot find an article.
	var pageURL *url.URL
	if meta != nil {
		pageURL, _ = url.Parse(meta.URL)
	}
	body := string(raw)
	if article, err := readability.FromReader(strings.NewReader(body), pageURL); err == nil && article.Content != "" {
		body = article.Content
		if _, taken := metadata["title"]; !taken && article.Title != "" {
			metadata["title"] = article.Title
		}
		if article.Byline != "" {
			if _, taken := metadata["author"]; !taken {
				metadata["author"] = article.Byline
			}
		}
	}

	markdown, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return "", nil, fmt.Errorf("convert html to markdown: %w", err)
	}
	return markdown, metadata, nil
}

func (p *NativeParser) extractText(path string) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), map[string]any{}, nil
}
