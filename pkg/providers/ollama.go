package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docland/docland/pkg/domain"
)

// embedBatchSize caps how many texts go into one /api/embed request.
const embedBatchSize = 32

// embedParallelism caps concurrent sub-batch requests per Embed call.
const embedParallelism = 4

// OllamaEmbedder talks to an Ollama-style embedding server over its native
// HTTP API: POST /api/embed, liveness via GET /api/tags.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

func NewOllamaEmbedder(baseURL, model string, dimensions int, timeout time.Duration) (*OllamaEmbedder, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: ollama embedder requires a url", domain.ErrConfigurationError)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: ollama embedder requires a model", domain.ErrConfigurationError)
	}
	return &OllamaEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (e *OllamaEmbedder) Name() string { return "ollama" }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed batches texts into sub-requests and reassembles results in order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) (*domain.EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", domain.ErrInvalidInput)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vectors) != end-start {
				return fmt.Errorf("%w: requested %d embeddings, got %d",
					domain.ErrEmbeddingFailed, end-start, len(vectors))
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dims := e.dimensions
	if dims == 0 && len(out) > 0 {
		dims = len(out[0])
	}
	return &domain.EmbeddingResult{Embeddings: out, Model: e.model, Dimensions: dims}, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: embed endpoint returned %d: %s",
			domain.ErrEmbeddingFailed, resp.StatusCode, string(snippet))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", domain.ErrEmbeddingFailed, err)
	}
	return parsed.Embeddings, nil
}

func (e *OllamaEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	result, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", domain.ErrEmbeddingFailed)
	}
	return result.Embeddings[0], nil
}

func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	return ollamaAlive(ctx, e.client, e.baseURL)
}

// OllamaLLM is the chat flavor of the same server: POST /api/chat with
// stream disabled.
type OllamaLLM struct {
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

func NewOllamaLLM(baseURL, model string, maxTokens int, timeout time.Duration) (*OllamaLLM, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: ollama llm requires a url", domain.ErrConfigurationError)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: ollama llm requires a model", domain.ErrConfigurationError)
	}
	return &OllamaLLM{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (l *OllamaLLM) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  *ollamaChatOptions  `json:"options,omitempty"`
}

type ollamaChatOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Model      string `json:"model"`
	DoneReason string `json:"done_reason"`
}

func (l *OllamaLLM) Chat(ctx context.Context, messages []domain.ChatMessage, opts *domain.ChatOptions) (*domain.ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no messages", domain.ErrInvalidInput)
	}

	chatReq := ollamaChatRequest{
		Model:    l.model,
		Messages: messages,
		Stream:   false,
	}
	maxTokens := l.maxTokens
	if opts != nil {
		if opts.JSONFormat {
			chatReq.Format = "json"
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}
	if maxTokens > 0 {
		chatReq.Options = &ollamaChatOptions{NumPredict: maxTokens}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: chat endpoint returned %d: %s",
			domain.ErrGenerationFailed, resp.StatusCode, string(snippet))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode chat response: %v", domain.ErrGenerationFailed, err)
	}

	return &domain.ChatResponse{
		Content:      parsed.Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.DoneReason,
	}, nil
}

func (l *OllamaLLM) IsAvailable(ctx context.Context) bool {
	return ollamaAlive(ctx, l.client, l.baseURL)
}

func ollamaAlive(ctx context.Context, client *http.Client, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
