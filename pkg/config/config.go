package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docland/docland/pkg/log"
)

type Config struct {
	Home       string           `mapstructure:"home" toml:"home"`
	Database   DatabaseConfig   `mapstructure:"database" toml:"database"`
	Embedding  ProviderConfig   `mapstructure:"embedding" toml:"embedding"`
	LLM        ProviderConfig   `mapstructure:"llm" toml:"llm"`
	Pgvector   PgvectorConfig   `mapstructure:"pgvector" toml:"pgvector"`
	Chunker    ChunkerConfig    `mapstructure:"chunker" toml:"chunker"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" toml:"pipeline"`
	Services   ServicesConfig   `mapstructure:"services" toml:"services"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" toml:"enrichment"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" toml:"url"`
}

// ProviderConfig covers both the embedding and the LLM server. Dimensions
// applies to embeddings only, MaxTokens to the LLM only.
type ProviderConfig struct {
	Backend    string        `mapstructure:"backend" toml:"backend"` // ollama | openai
	Model      string        `mapstructure:"model" toml:"model"`
	URL        string        `mapstructure:"url" toml:"url"`
	APIKey     string        `mapstructure:"api_key" toml:"api_key"`
	Dimensions int           `mapstructure:"dimensions" toml:"dimensions"`
	MaxTokens  int           `mapstructure:"max_tokens" toml:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout" toml:"timeout"`
}

type PgvectorConfig struct {
	TableName      string `mapstructure:"table_name" toml:"table_name"`
	ViewName       string `mapstructure:"view_name" toml:"view_name"` // compatibility view, empty disables
	DropOnMismatch bool   `mapstructure:"drop_on_mismatch" toml:"drop_on_mismatch"`
	PoolMinConns   int    `mapstructure:"pool_min_conns" toml:"pool_min_conns"`
	PoolMaxConns   int    `mapstructure:"pool_max_conns" toml:"pool_max_conns"`
}

type ChunkerConfig struct {
	Method    string `mapstructure:"method" toml:"method"` // fixed | hybrid
	MaxTokens int    `mapstructure:"max_tokens" toml:"max_tokens"`
	Overlap   int    `mapstructure:"overlap" toml:"overlap"`
}

type PipelineConfig struct {
	MetadataMergeStrategy       string `mapstructure:"metadata_merge_strategy" toml:"metadata_merge_strategy"`
	FilenameTemplate            string `mapstructure:"filename_template" toml:"filename_template"`
	ParserBackend               string `mapstructure:"parser_backend" toml:"parser_backend"`
	ArchiveBackend              string `mapstructure:"archive_backend" toml:"archive_backend"`
	RAGBackend                  string `mapstructure:"rag_backend" toml:"rag_backend"`
	VectorStoreBackend          string `mapstructure:"vector_store_backend" toml:"vector_store_backend"`
	TikaEnrichmentEnabled       bool   `mapstructure:"tika_enrichment_enabled" toml:"tika_enrichment_enabled"`
	LLMEnrichmentEnabled        bool   `mapstructure:"llm_enrichment_enabled" toml:"llm_enrichment_enabled"`
	ContextualEnrichmentEnabled bool   `mapstructure:"contextual_enrichment_enabled" toml:"contextual_enrichment_enabled"`
}

type ServiceConfig struct {
	URL     string        `mapstructure:"url" toml:"url"`
	Token   string        `mapstructure:"token" toml:"token"`
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`
}

type ServicesConfig struct {
	Parser   ServiceConfig `mapstructure:"parser" toml:"parser"`
	Tika     ServiceConfig `mapstructure:"tika" toml:"tika"`
	Renderer ServiceConfig `mapstructure:"renderer" toml:"renderer"`
	Archive  ServiceConfig `mapstructure:"archive" toml:"archive"`
	Qdrant   ServiceConfig `mapstructure:"qdrant" toml:"qdrant"`
}

type EnrichmentConfig struct {
	MaxTokens     int `mapstructure:"max_tokens" toml:"max_tokens"`     // document budget for tier-1
	ContextWindow int `mapstructure:"context_window" toml:"context_window"` // neighbor chunks per side for tier-2
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	home := os.Getenv("DOCLAND_HOME")
	if home == "" {
		home = "~/.docland"
	}
	home = expandHomePath(home)

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
		home = filepath.Dir(absPath)
	} else {
		// Check order:
		// 1. ./docland.toml
		// 2. ~/.docland/docland.toml
		if _, err := os.Stat("docland.toml"); err == nil {
			abs, _ := filepath.Abs("docland.toml")
			viper.SetConfigFile(abs)
			home = filepath.Dir(abs)
		} else {
			viper.SetConfigFile(filepath.Join(home, "docland.toml"))
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Missing default config is fine, defaults plus env apply.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Home == "" {
		config.Home = home
	}
	config.Home = expandHomePath(config.Home)

	// The LLM server usually lives next to the embedding server; an unset
	// URL inherits it.
	if config.LLM.URL == "" {
		config.LLM.URL = config.Embedding.URL
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("database.url", "")

	viper.SetDefault("embedding.backend", "ollama")
	viper.SetDefault("embedding.model", "nomic-embed-text")
	viper.SetDefault("embedding.url", "http://localhost:11434")
	viper.SetDefault("embedding.dimensions", 768)
	viper.SetDefault("embedding.timeout", 60*time.Second)

	viper.SetDefault("llm.backend", "ollama")
	viper.SetDefault("llm.model", "qwen3")
	viper.SetDefault("llm.max_tokens", 2000)
	viper.SetDefault("llm.timeout", 120*time.Second)

	viper.SetDefault("pgvector.table_name", "document_chunks")
	viper.SetDefault("pgvector.view_name", "")
	viper.SetDefault("pgvector.drop_on_mismatch", false)
	viper.SetDefault("pgvector.pool_min_conns", 2)
	viper.SetDefault("pgvector.pool_max_conns", 10)

	viper.SetDefault("chunker.method", "fixed")
	viper.SetDefault("chunker.max_tokens", 500)
	viper.SetDefault("chunker.overlap", 50)

	viper.SetDefault("pipeline.metadata_merge_strategy", "smart")
	viper.SetDefault("pipeline.filename_template", "{date} - {org} - {title}")
	viper.SetDefault("pipeline.parser_backend", "docling")
	viper.SetDefault("pipeline.archive_backend", "paperless")
	viper.SetDefault("pipeline.rag_backend", "pgvector")
	viper.SetDefault("pipeline.vector_store_backend", "pgvector")
	viper.SetDefault("pipeline.tika_enrichment_enabled", true)
	viper.SetDefault("pipeline.llm_enrichment_enabled", false)
	viper.SetDefault("pipeline.contextual_enrichment_enabled", false)

	viper.SetDefault("services.parser.url", "")
	viper.SetDefault("services.parser.timeout", 120*time.Second)
	viper.SetDefault("services.tika.url", "")
	viper.SetDefault("services.tika.timeout", 60*time.Second)
	viper.SetDefault("services.renderer.url", "")
	viper.SetDefault("services.renderer.timeout", 120*time.Second)
	viper.SetDefault("services.archive.url", "")
	viper.SetDefault("services.archive.timeout", 60*time.Second)
	viper.SetDefault("services.qdrant.url", "")
	viper.SetDefault("services.qdrant.timeout", 30*time.Second)

	viper.SetDefault("enrichment.max_tokens", 4000)
	viper.SetDefault("enrichment.context_window", 2)
}

func bindEnvVars() {
	viper.SetEnvPrefix("DOCLAND")
	viper.AutomaticEnv()

	// The unprefixed names below are the ones operators actually set; bind
	// them explicitly so they beat file values.
	bindings := map[string]string{
		"home":                         "DOCLAND_HOME",
		"database.url":                 "DATABASE_URL",
		"embedding.backend":            "EMBEDDING_BACKEND",
		"embedding.model":              "EMBEDDING_MODEL",
		"embedding.url":                "EMBEDDING_URL",
		"embedding.api_key":            "EMBEDDING_API_KEY",
		"embedding.dimensions":         "EMBEDDING_DIMENSIONS",
		"embedding.timeout":            "EMBEDDING_TIMEOUT",
		"llm.backend":                  "LLM_BACKEND",
		"llm.model":                    "LLM_MODEL",
		"llm.url":                      "LLM_URL",
		"llm.api_key":                  "LLM_API_KEY",
		"llm.max_tokens":               "LLM_MAX_TOKENS",
		"llm.timeout":                  "LLM_TIMEOUT",
		"pgvector.drop_on_mismatch":    "PGVECTOR_DROP_ON_MISMATCH",
		"pgvector.table_name":          "PGVECTOR_TABLE_NAME",
		"pgvector.view_name":           "PGVECTOR_VIEW_NAME",
		"services.parser.url":          "PARSER_URL",
		"services.tika.url":            "TIKA_URL",
		"services.renderer.url":        "RENDERER_URL",
		"services.archive.url":         "ARCHIVE_URL",
		"services.archive.token":       "ARCHIVE_TOKEN",
		"services.qdrant.url":          "QDRANT_URL",
		"pipeline.parser_backend":      "PARSER_BACKEND",
		"pipeline.archive_backend":     "ARCHIVE_BACKEND",
		"pipeline.rag_backend":         "RAG_BACKEND",
		"pipeline.vector_store_backend": "VECTOR_STORE_BACKEND",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Warnf("failed to bind %s env var: %v", env, err)
		}
	}
}

// DataDir returns the path to the data directory.
func (c *Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

// SettingsPath returns the path of the runtime settings JSON file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Home, "settings.json")
}

// StateDBPath returns the sqlite file holding per-scraper run state.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir(), "state.db")
}

func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", c.Embedding.Dimensions)
	}

	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model cannot be empty")
	}

	validBackends := map[string]bool{"ollama": true, "openai": true}
	if !validBackends[c.Embedding.Backend] {
		return fmt.Errorf("invalid embedding backend: %s (supported: ollama, openai)", c.Embedding.Backend)
	}
	if !validBackends[c.LLM.Backend] {
		return fmt.Errorf("invalid llm backend: %s (supported: ollama, openai)", c.LLM.Backend)
	}

	if c.Chunker.MaxTokens <= 0 {
		return fmt.Errorf("chunker max_tokens must be positive: %d", c.Chunker.MaxTokens)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.MaxTokens {
		return fmt.Errorf("chunker overlap must be in [0, max_tokens): %d", c.Chunker.Overlap)
	}
	validMethods := map[string]bool{"fixed": true, "hybrid": true}
	if !validMethods[c.Chunker.Method] {
		return fmt.Errorf("invalid chunker method: %s (supported: fixed, hybrid)", c.Chunker.Method)
	}

	if _, err := parseMergeStrategy(c.Pipeline.MetadataMergeStrategy); err != nil {
		return err
	}

	if c.Pgvector.TableName == "" {
		return fmt.Errorf("pgvector table_name cannot be empty")
	}
	if c.Pgvector.PoolMinConns < 0 || c.Pgvector.PoolMaxConns < c.Pgvector.PoolMinConns {
		return fmt.Errorf("invalid pgvector pool bounds: min %d, max %d",
			c.Pgvector.PoolMinConns, c.Pgvector.PoolMaxConns)
	}

	if c.Enrichment.MaxTokens <= 0 {
		return fmt.Errorf("enrichment max_tokens must be positive: %d", c.Enrichment.MaxTokens)
	}
	if c.Enrichment.ContextWindow < 0 {
		return fmt.Errorf("enrichment context_window must be non-negative: %d", c.Enrichment.ContextWindow)
	}

	return nil
}

// parseMergeStrategy mirrors domain.ParseMergeStrategy without importing the
// domain package; config stays a leaf.
func parseMergeStrategy(s string) (string, error) {
	switch s {
	case "", "smart":
		return "smart", nil
	case "prefer_scraper", "prefer_parser":
		return s, nil
	default:
		return "", fmt.Errorf("invalid metadata_merge_strategy: %s", s)
	}
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func expandHomePath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// EnsureParentDir creates the directory holding filePath if needed.
func EnsureParentDir(filePath string) {
	if filePath == "" {
		return
	}

	dir := filepath.Dir(filePath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warnf("failed to create directory %s: %v", dir, err)
		}
	}
}
