package tika

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docland/docland/pkg/domain"
)

// Client talks to a Tika-style text-extraction server: PUT /tika for text,
// PUT /meta for metadata, PUT /detect/stream for MIME detection.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: tika client requires a url", domain.ErrConfigurationError)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// ExtractText returns the document body as plain text.
func (c *Client) ExtractText(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/tika", file)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika text extraction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tika returned %d", resp.StatusCode)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tika response: %w", err)
	}
	return string(text), nil
}

// ExtractMetadata fetches the raw metadata document and normalizes its keys
// to the pipeline's vocabulary.
func (c *Client) ExtractMetadata(ctx context.Context, path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/meta", file)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tika metadata extraction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tika meta returned %d", resp.StatusCode)
	}

	raw := make(map[string]any)
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode tika metadata: %w", err)
	}
	return NormalizeMetadata(raw), nil
}

// DetectMIME asks the server for the content type of the file bytes.
func (c *Client) DetectMIME(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/detect/stream", bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika mime detection: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tika detect returned %d", resp.StatusCode)
	}

	mime, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(mime)), nil
}

// IsAvailable probes the server root.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tika", nil)
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

// NormalizeMetadata maps Tika's Dublin Core style keys onto the pipeline's
// field names. First-seen wins for keys with multiple candidates; values
// that cannot be coerced are dropped.
func NormalizeMetadata(raw map[string]any) map[string]any {
	out := make(map[string]any)

	setString := func(key string, value any) {
		if _, taken := out[key]; taken {
			return
		}
		if s := stringValue(value); s != "" {
			out[key] = s
		}
	}

	// Candidate order matters: the dc: form beats the meta: form.
	for _, pair := range []struct{ from, to string }{
		{"dc:title", "title"},
		{"title", "title"},
		{"dc:creator", "author"},
		{"meta:author", "author"},
		{"Author", "author"},
		{"dcterms:created", "creation_date"},
		{"meta:creation-date", "creation_date"},
		{"dc:language", "language"},
		{"language", "language"},
		{"dc:description", "description"},
		{"description", "description"},
		{"Content-Type", "content_type"},
		{"dc:subject", "keywords"},
		{"meta:keyword", "keywords"},
	} {
		if value, ok := raw[pair.from]; ok {
			setString(pair.to, value)
		}
	}

	for _, key := range []string{"meta:page-count", "xmpTPg:NPages"} {
		if _, taken := out["page_count"]; taken {
			break
		}
		if value, ok := raw[key]; ok {
			if pages, ok := intValue(value); ok && pages > 0 {
				out["page_count"] = pages
			}
		}
	}

	return out
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		if len(val) > 0 {
			return stringValue(val[0])
		}
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func intValue(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n, true
		}
		return 0, false
	case []any:
		if len(val) > 0 {
			return intValue(val[0])
		}
		return 0, false
	default:
		return 0, false
	}
}
