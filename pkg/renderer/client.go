package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docland/docland/pkg/domain"
)

// Client renders documents to PDF through a Gotenberg-style conversion
// server. The response is an opaque byte stream; any non-2xx status is an
// error and the caller falls back to archiving the original file.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: renderer client requires a url", domain.ErrConfigurationError)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// RenderMarkdown converts a markdown file to PDF. The body is wrapped in a
// minimal HTML shell because the conversion route takes HTML input.
func (c *Client) RenderMarkdown(ctx context.Context, path, outputPath string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	html := markdownShell(string(body))
	return c.convert(ctx, "/forms/chromium/convert/html", "index.html", []byte(html), outputPath)
}

// RenderHTML converts an HTML file to PDF.
func (c *Client) RenderHTML(ctx context.Context, path, outputPath string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return c.convert(ctx, "/forms/chromium/convert/html", "index.html", body, outputPath)
}

// RenderOffice converts an office document to PDF via the libreoffice route.
func (c *Client) RenderOffice(ctx context.Context, path, outputPath string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return c.convert(ctx, "/forms/libreoffice/convert", filepath.Base(path), body, outputPath)
}

func (c *Client) convert(ctx context.Context, route, filename string, content []byte, outputPath string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("render request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("renderer returned %d: %s", resp.StatusCode, string(snippet))
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("write rendered pdf: %w", err)
	}
	return nil
}

// IsAvailable probes the health endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func markdownShell(markdown string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"></head>\n<body>\n<pre style=\"white-space: pre-wrap; font-family: serif;\">\n")
	sb.WriteString(htmlEscape(markdown))
	sb.WriteString("\n</pre>\n</body>\n</html>\n")
	return sb.String()
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}
