package providers

import (
	"fmt"

	"github.com/docland/docland/pkg/config"
	"github.com/docland/docland/pkg/domain"
)

// NewEmbedder builds the configured embedding provider flavor.
func NewEmbedder(cfg config.ProviderConfig) (domain.Embedder, error) {
	switch cfg.Backend {
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "openai":
		return NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: embedder backend %q (supported: ollama, openai)",
			domain.ErrBackendUnknown, cfg.Backend)
	}
}

// NewLLM builds the configured chat provider flavor.
func NewLLM(cfg config.ProviderConfig) (domain.LLM, error) {
	switch cfg.Backend {
	case "ollama":
		return NewOllamaLLM(cfg.URL, cfg.Model, cfg.MaxTokens, cfg.Timeout)
	case "openai":
		return NewOpenAILLM(cfg.URL, cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: llm backend %q (supported: ollama, openai)",
			domain.ErrBackendUnknown, cfg.Backend)
	}
}
