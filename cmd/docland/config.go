package docland

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/docland/docland/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path = filepath.Join(home, ".docland", "docland.toml")
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}

		body, err := toml.Marshal(defaultConfigDocument())
		if err != nil {
			return err
		}
		content := append([]byte(configHeader), body...)
		if err := os.WriteFile(path, content, 0644); err != nil {
			return err
		}
		fmt.Printf("✅ wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := toml.Marshal(configDocument(cfg))
		if err != nil {
			return err
		}
		fmt.Print(string(body))
		return nil
	},
}

const configHeader = `# docland configuration
#
# Values here are defaults; environment variables (DATABASE_URL,
# EMBEDDING_URL, ARCHIVE_URL, ARCHIVE_TOKEN, ...) override them, and the
# runtime settings file (~/.docland/settings.json) overrides both.

`

// configDocument renders a config as an ordered TOML-friendly document with
// human-readable durations.
func configDocument(c *config.Config) map[string]any {
	return map[string]any{
		"database": map[string]any{"url": c.Database.URL},
		"embedding": map[string]any{
			"backend":    c.Embedding.Backend,
			"model":      c.Embedding.Model,
			"url":        c.Embedding.URL,
			"dimensions": c.Embedding.Dimensions,
			"timeout":    c.Embedding.Timeout.String(),
		},
		"llm": map[string]any{
			"backend":    c.LLM.Backend,
			"model":      c.LLM.Model,
			"url":        c.LLM.URL,
			"max_tokens": c.LLM.MaxTokens,
			"timeout":    c.LLM.Timeout.String(),
		},
		"pgvector": map[string]any{
			"table_name":       c.Pgvector.TableName,
			"view_name":        c.Pgvector.ViewName,
			"drop_on_mismatch": c.Pgvector.DropOnMismatch,
			"pool_min_conns":   c.Pgvector.PoolMinConns,
			"pool_max_conns":   c.Pgvector.PoolMaxConns,
		},
		"chunker": map[string]any{
			"method":     c.Chunker.Method,
			"max_tokens": c.Chunker.MaxTokens,
			"overlap":    c.Chunker.Overlap,
		},
		"pipeline": map[string]any{
			"metadata_merge_strategy":       c.Pipeline.MetadataMergeStrategy,
			"filename_template":             c.Pipeline.FilenameTemplate,
			"parser_backend":                c.Pipeline.ParserBackend,
			"archive_backend":               c.Pipeline.ArchiveBackend,
			"rag_backend":                   c.Pipeline.RAGBackend,
			"vector_store_backend":          c.Pipeline.VectorStoreBackend,
			"tika_enrichment_enabled":       c.Pipeline.TikaEnrichmentEnabled,
			"llm_enrichment_enabled":        c.Pipeline.LLMEnrichmentEnabled,
			"contextual_enrichment_enabled": c.Pipeline.ContextualEnrichmentEnabled,
		},
		"services": map[string]any{
			"parser":   serviceDocument(c.Services.Parser),
			"tika":     serviceDocument(c.Services.Tika),
			"renderer": serviceDocument(c.Services.Renderer),
			"archive":  serviceDocument(c.Services.Archive),
			"qdrant":   serviceDocument(c.Services.Qdrant),
		},
		"enrichment": map[string]any{
			"max_tokens":     c.Enrichment.MaxTokens,
			"context_window": c.Enrichment.ContextWindow,
		},
	}
}

func serviceDocument(s config.ServiceConfig) map[string]any {
	doc := map[string]any{"url": s.URL, "timeout": s.Timeout.String()}
	if s.Token != "" {
		doc["token"] = s.Token
	}
	return doc
}

func defaultConfigDocument() map[string]any {
	return configDocument(&config.Config{
		Embedding: config.ProviderConfig{
			Backend: "ollama", Model: "nomic-embed-text",
			URL: "http://localhost:11434", Dimensions: 768, Timeout: 60 * time.Second,
		},
		LLM: config.ProviderConfig{
			Backend: "ollama", Model: "qwen3", MaxTokens: 2000, Timeout: 120 * time.Second,
		},
		Pgvector: config.PgvectorConfig{
			TableName: "document_chunks", PoolMinConns: 2, PoolMaxConns: 10,
		},
		Chunker: config.ChunkerConfig{Method: "fixed", MaxTokens: 500, Overlap: 50},
		Pipeline: config.PipelineConfig{
			MetadataMergeStrategy: "smart",
			FilenameTemplate:      "{date} - {org} - {title}",
			ParserBackend:         "docling",
			ArchiveBackend:        "paperless",
			RAGBackend:            "pgvector",
			VectorStoreBackend:    "pgvector",
			TikaEnrichmentEnabled: true,
		},
		Services: config.ServicesConfig{
			Parser:   config.ServiceConfig{Timeout: 120 * time.Second},
			Tika:     config.ServiceConfig{Timeout: 60 * time.Second},
			Renderer: config.ServiceConfig{Timeout: 120 * time.Second},
			Archive:  config.ServiceConfig{Timeout: 60 * time.Second},
			Qdrant:   config.ServiceConfig{Timeout: 30 * time.Second},
		},
		Enrichment: config.EnrichmentConfig{MaxTokens: 4000, ContextWindow: 2},
	})
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	RootCmd.AddCommand(configCmd)
}
