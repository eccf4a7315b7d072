package container

import (
	"context"
	"fmt"

	"github.com/docland/docland/pkg/archive"
	"github.com/docland/docland/pkg/backends"
	"github.com/docland/docland/pkg/config"
	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/enrichment"
	"github.com/docland/docland/pkg/parser"
	"github.com/docland/docland/pkg/providers"
	"github.com/docland/docland/pkg/rag"
	"github.com/docland/docland/pkg/store/pgvector"
	"github.com/docland/docland/pkg/store/qdrant"
)

// DefaultRegistry builds the backend table every container starts from.
// Reserved names (marker, webdav, r2r) are registered as not-implemented so
// the error names them instead of calling them unknown.
func DefaultRegistry() *backends.Registry {
	r := backends.NewRegistry()

	r.Register(backends.KindParser, "docling", func(ctx context.Context, c backends.Container) (any, error) {
		cfg := c.Cfg()
		url := c.EffectiveURL("parser", cfg.Services.Parser.URL)
		if url == "" {
			return nil, fmt.Errorf("%w: parser url not configured", domain.ErrConfigurationError)
		}
		return parser.NewDocling(url, c.EffectiveTimeout("parser", cfg.Services.Parser.Timeout))
	})
	r.Register(backends.KindParser, "native", func(ctx context.Context, c backends.Container) (any, error) {
		return parser.NewNative(), nil
	})
	r.RegisterNotImplemented(backends.KindParser, "marker")

	r.Register(backends.KindArchive, "paperless", func(ctx context.Context, c backends.Container) (any, error) {
		cfg := c.Cfg()
		url := c.EffectiveURL("archive", cfg.Services.Archive.URL)
		if url == "" {
			return nil, fmt.Errorf("%w: archive url not configured", domain.ErrConfigurationError)
		}
		return archive.NewPaperless(url, cfg.Services.Archive.Token,
			c.EffectiveTimeout("archive", cfg.Services.Archive.Timeout)), nil
	})
	r.RegisterNotImplemented(backends.KindArchive, "webdav")

	r.Register(backends.KindRAG, "pgvector", func(ctx context.Context, c backends.Container) (any, error) {
		cc, ok := c.(*Container)
		if !ok {
			return nil, fmt.Errorf("%w: rag factory needs the full container", domain.ErrConfigurationError)
		}
		splitter, err := cc.chunkerLocked(ctx)
		if err != nil {
			return nil, err
		}
		embedder, err := cc.embedderLocked(ctx)
		if err != nil {
			return nil, err
		}
		store, err := cc.vectorStoreLocked(ctx)
		if err != nil {
			return nil, err
		}
		var enricher *enrichment.Service
		contextual := cc.ContextualEnrichmentEnabled()
		if contextual {
			enricher, err = cc.enricherLocked(ctx)
			if err != nil {
				return nil, err
			}
		}
		return rag.NewVectorRAG(cc.EffectiveBackend(backends.KindVectorStore),
			splitter, embedder, store, enricher,
			rag.Options{ContextualEnrichment: contextual})
	})
	r.RegisterNotImplemented(backends.KindRAG, "r2r")

	r.Register(backends.KindVectorStore, "pgvector", func(ctx context.Context, c backends.Container) (any, error) {
		cfg := c.Cfg()
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL not configured", domain.ErrConfigurationError)
		}
		return pgvector.New(ctx, pgvector.Config{
			URL:            cfg.Database.URL,
			TableName:      cfg.Pgvector.TableName,
			ViewName:       cfg.Pgvector.ViewName,
			Dimensions:     cfg.Embedding.Dimensions,
			DropOnMismatch: cfg.Pgvector.DropOnMismatch,
			PoolMinConns:   cfg.Pgvector.PoolMinConns,
			PoolMaxConns:   cfg.Pgvector.PoolMaxConns,
		})
	})
	r.Register(backends.KindVectorStore, "qdrant", func(ctx context.Context, c backends.Container) (any, error) {
		cfg := c.Cfg()
		url := c.EffectiveURL("qdrant", cfg.Services.Qdrant.URL)
		if url == "" {
			return nil, fmt.Errorf("%w: qdrant url not configured", domain.ErrConfigurationError)
		}
		return qdrant.New(url, cfg.Pgvector.TableName, cfg.Embedding.Dimensions,
			c.EffectiveTimeout("qdrant", cfg.Services.Qdrant.Timeout))
	})

	r.Register(backends.KindEmbedder, "ollama", func(ctx context.Context, c backends.Container) (any, error) {
		pc := effectiveProvider(c, c.Cfg().Embedding, "embedding")
		return providers.NewOllamaEmbedder(pc.URL, pc.Model, pc.Dimensions, pc.Timeout)
	})
	r.Register(backends.KindEmbedder, "openai", func(ctx context.Context, c backends.Container) (any, error) {
		pc := effectiveProvider(c, c.Cfg().Embedding, "embedding")
		return providers.NewOpenAIEmbedder(pc.URL, pc.APIKey, pc.Model, pc.Dimensions, pc.Timeout)
	})

	r.Register(backends.KindLLM, "ollama", func(ctx context.Context, c backends.Container) (any, error) {
		pc := effectiveProvider(c, c.Cfg().LLM, "llm")
		return providers.NewOllamaLLM(pc.URL, pc.Model, pc.MaxTokens, pc.Timeout)
	})
	r.Register(backends.KindLLM, "openai", func(ctx context.Context, c backends.Container) (any, error) {
		pc := effectiveProvider(c, c.Cfg().LLM, "llm")
		return providers.NewOpenAILLM(pc.URL, pc.APIKey, pc.Model, pc.MaxTokens, pc.Timeout)
	})

	return r
}

// effectiveProvider applies settings URL/timeout overrides to a copy of a
// provider config.
func effectiveProvider(c backends.Container, pc config.ProviderConfig, service string) config.ProviderConfig {
	pc.URL = c.EffectiveURL(service, pc.URL)
	pc.Timeout = c.EffectiveTimeout(service, pc.Timeout)
	return pc
}
