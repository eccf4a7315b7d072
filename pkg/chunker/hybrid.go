package chunker

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
	"strconv"
	"strings"
	"time"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

// HybridChunker delegates to the parser server's structure-aware chunking
// endpoint and falls back to the fixed window strategy on any failure.
type HybridChunker struct {
	baseURL   string
	client    *http.Client
	maxTokens int
	fallback  *FixedChunker
	logger    *slog.Logger
}

func NewHybrid(baseURL string, timeout time.Duration, maxTokens, overlap int) (*HybridChunker, error) {
	fallback, err := NewFixed(maxTokens, overlap)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: hybrid chunker requires a parser server url", domain.ErrConfigurationError)
	}
	return &HybridChunker{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		maxTokens: maxTokens,
		fallback:  fallback,
		logger:    log.WithModule("chunker"),
	}, nil
}

func (c *HybridChunker) Chunk(ctx context.Context, text string, metadata map[string]any) ([]domain.Chunk, error) {
	if len(strings.Fields(text)) == 0 {
		return []domain.Chunk{}, nil
	}

	chunks, err := c.remote(ctx, text, metadata)
	if err != nil {
		c.logger.Warn("structure-aware chunking failed, using fixed window",
			"error", err)
		return c.fallback.Chunk(ctx, text, metadata)
	}
	return chunks, nil
}

type hybridChunk struct {
	Text       string   `json:"text"`
	RawText    string   `json:"raw_text"`
	Headings   []string `json:"headings"`
	NumTokens  int      `json:"num_tokens"`
	ChunkIndex int      `json:"chunk_index"`
}

type hybridResponse struct {
	Chunks []hybridChunk `json:"chunks"`
}

func (c *HybridChunker) remote(ctx context.Context, text string, metadata map[string]any) ([]domain.Chunk, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", "document.md")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/v1/chunk/hybrid/file?" + url.Values{
		"chunking_max_tokens":       {strconv.Itoa(c.maxTokens)},
		"chunking_include_raw_text": {"true"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chunk request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chunk endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed hybridResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode chunk response: %w", err)
	}
	if len(parsed.Chunks) == 0 {
		return nil, fmt.Errorf("chunk endpoint returned no chunks")
	}

	chunks := make([]domain.Chunk, 0, len(parsed.Chunks))
	for _, hc := range parsed.Chunks {
		content := hc.RawText
		if content == "" {
			content = hc.Text
		}
		if content == "" {
			return nil, fmt.Errorf("chunk %d has no content", hc.ChunkIndex)
		}

		md := copyMetadata(metadata)
		md["chunk_index"] = hc.ChunkIndex
		if hc.NumTokens > 0 {
			md["num_tokens"] = hc.NumTokens
		}
		if len(hc.Headings) > 0 {
			md["heading_context"] = hc.Headings[len(hc.Headings)-1]
		}

		chunks = append(chunks, domain.Chunk{
			Content:  content,
			Index:    hc.ChunkIndex,
			Metadata: md,
		})
	}
	return chunks, nil
}
