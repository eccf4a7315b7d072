package settings

import (
	"fmt"
	"time"
)

// Settings is the runtime override document persisted as JSON. Every field
// follows the inherit rule: empty string or zero means "use the config
// value"; explicit values win over config.
type Settings struct {
	Pipeline PipelineSettings           `json:"pipeline"`
	Services ServiceSettings            `json:"services"`
	Scrapers map[string]ScraperSettings `json:"scrapers,omitempty"`
}

// PipelineSettings override pipeline behavior per deployment.
type PipelineSettings struct {
	MetadataMergeStrategy       string `json:"metadata_merge_strategy,omitempty"`
	FilenameTemplate            string `json:"filename_template,omitempty"`
	ParserBackend               string `json:"parser_backend,omitempty"`
	ArchiveBackend              string `json:"archive_backend,omitempty"`
	RAGBackend                  string `json:"rag_backend,omitempty"`
	VectorStoreBackend          string `json:"vector_store_backend,omitempty"`
	ContextualEnrichmentEnabled *bool  `json:"contextual_enrichment_enabled,omitempty"`
}

// ServiceSettings override per-service URLs and timeouts. Timeouts are in
// seconds; zero inherits.
type ServiceSettings struct {
	ParserURL        string `json:"parser_url,omitempty"`
	ParserTimeout    int    `json:"parser_timeout,omitempty"`
	TikaURL          string `json:"tika_url,omitempty"`
	TikaTimeout      int    `json:"tika_timeout,omitempty"`
	RendererURL      string `json:"renderer_url,omitempty"`
	RendererTimeout  int    `json:"renderer_timeout,omitempty"`
	ArchiveURL       string `json:"archive_url,omitempty"`
	ArchiveTimeout   int    `json:"archive_timeout,omitempty"`
	EmbeddingURL     string `json:"embedding_url,omitempty"`
	EmbeddingTimeout int    `json:"embedding_timeout,omitempty"`
	LLMURL           string `json:"llm_url,omitempty"`
	LLMTimeout       int    `json:"llm_timeout,omitempty"`
	QdrantURL        string `json:"qdrant_url,omitempty"`
	QdrantTimeout    int    `json:"qdrant_timeout,omitempty"`
}

// ScraperSettings are per-scraper toggles.
type ScraperSettings struct {
	CloudflareEnabled bool   `json:"cloudflare_enabled,omitempty"`
	IngestionMode     string `json:"ingestion_mode,omitempty"` // scrape | api
	DatasetID         string `json:"dataset_id,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	ChunkMethod       string `json:"chunk_method,omitempty"` // fixed | hybrid
	PDFParser         string `json:"pdf_parser,omitempty"`
	PipelineID        string `json:"pipeline_id,omitempty"`
	Schedule          string `json:"schedule,omitempty"` // cron expression
}

// URLFor returns the override URL for a service name, empty if inherited.
func (s ServiceSettings) URLFor(service string) string {
	switch service {
	case "parser":
		return s.ParserURL
	case "tika":
		return s.TikaURL
	case "renderer":
		return s.RendererURL
	case "archive":
		return s.ArchiveURL
	case "embedding":
		return s.EmbeddingURL
	case "llm":
		return s.LLMURL
	case "qdrant":
		return s.QdrantURL
	default:
		return ""
	}
}

// TimeoutFor returns the override timeout for a service name, zero if
// inherited.
func (s ServiceSettings) TimeoutFor(service string) time.Duration {
	seconds := 0
	switch service {
	case "parser":
		seconds = s.ParserTimeout
	case "tika":
		seconds = s.TikaTimeout
	case "renderer":
		seconds = s.RendererTimeout
	case "archive":
		seconds = s.ArchiveTimeout
	case "embedding":
		seconds = s.EmbeddingTimeout
	case "llm":
		seconds = s.LLMTimeout
	case "qdrant":
		seconds = s.QdrantTimeout
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Default returns the baked-in settings used when no file exists or the
// file fails validation.
func Default() *Settings {
	return &Settings{
		Pipeline: PipelineSettings{},
		Services: ServiceSettings{},
		Scrapers: map[string]ScraperSettings{},
	}
}

// Validate checks enum fields and value ranges. It runs on every load and
// before every save.
func (s *Settings) Validate() error {
	switch s.Pipeline.MetadataMergeStrategy {
	case "", "smart", "prefer_scraper", "prefer_parser":
	default:
		return fmt.Errorf("pipeline.metadata_merge_strategy: unknown value %q", s.Pipeline.MetadataMergeStrategy)
	}

	timeouts := map[string]int{
		"parser_timeout":    s.Services.ParserTimeout,
		"tika_timeout":      s.Services.TikaTimeout,
		"renderer_timeout":  s.Services.RendererTimeout,
		"archive_timeout":   s.Services.ArchiveTimeout,
		"embedding_timeout": s.Services.EmbeddingTimeout,
		"llm_timeout":       s.Services.LLMTimeout,
		"qdrant_timeout":    s.Services.QdrantTimeout,
	}
	for name, v := range timeouts {
		if v < 0 {
			return fmt.Errorf("services.%s: must be non-negative, got %d", name, v)
		}
	}

	for name, sc := range s.Scrapers {
		if name == "" {
			return fmt.Errorf("scrapers: empty scraper name")
		}
		switch sc.IngestionMode {
		case "", "scrape", "api":
		default:
			return fmt.Errorf("scrapers.%s.ingestion_mode: unknown value %q", name, sc.IngestionMode)
		}
		switch sc.ChunkMethod {
		case "", "fixed", "hybrid":
		default:
			return fmt.Errorf("scrapers.%s.chunk_method: unknown value %q", name, sc.ChunkMethod)
		}
	}

	return nil
}
