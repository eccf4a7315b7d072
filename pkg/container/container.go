// Package container wires every backend and client together. It is the only
// place that touches the registry; the pipeline receives fully-built
// dependencies and never reaches into global state.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docland/docland/internal/scheduler"
	"github.com/docland/docland/internal/state"
	"github.com/docland/docland/pkg/backends"
	"github.com/docland/docland/pkg/chunker"
	"github.com/docland/docland/pkg/config"
	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/enrichment"
	"github.com/docland/docland/pkg/log"
	"github.com/docland/docland/pkg/renderer"
	"github.com/docland/docland/pkg/settings"
	"github.com/docland/docland/pkg/tika"
)

var (
	instance atomic.Pointer[Container]
	createMu sync.Mutex
)

// Get returns the process-wide container, creating it from default config
// discovery on first use.
func Get() (*Container, error) {
	if c := instance.Load(); c != nil {
		return c, nil
	}
	createMu.Lock()
	defer createMu.Unlock()
	if c := instance.Load(); c != nil {
		return c, nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	c := New(cfg)
	instance.Store(c)
	return c, nil
}

// Init installs a container built from an explicitly loaded config,
// replacing any existing instance. The CLI calls this after flag parsing.
func Init(cfg *config.Config) *Container {
	createMu.Lock()
	defer createMu.Unlock()
	c := New(cfg)
	instance.Store(c)
	return c
}

// Container owns lazily-built singletons: backends (through the registry),
// HTTP clients, the settings service, the run-state store, and the
// scheduler handle.
type Container struct {
	cfg      *config.Config
	settings *settings.Service
	registry *backends.Registry
	logger   *slog.Logger

	mu          sync.Mutex
	instances   map[backends.Kind]any
	tikaClient  *tika.Client
	rendererCli *renderer.Client
	enricher    *enrichment.Service
	textSplit   domain.Chunker
	stateStore  *state.Store
	sched       *scheduler.Scheduler
}

func New(cfg *config.Config) *Container {
	return &Container{
		cfg:       cfg,
		settings:  settings.NewService(cfg.SettingsPath()),
		registry:  DefaultRegistry(),
		logger:    log.WithModule("container"),
		instances: make(map[backends.Kind]any),
	}
}

// Cfg implements backends.Container.
func (c *Container) Cfg() *config.Config { return c.cfg }

// Settings implements backends.Container.
func (c *Container) Settings() *settings.Service { return c.settings }

// EffectiveURL resolves a service URL: settings override beats config.
func (c *Container) EffectiveURL(service, configURL string) string {
	if url := c.settings.Current().Services.URLFor(service); url != "" {
		return url
	}
	return configURL
}

// EffectiveTimeout resolves a service timeout: settings override beats
// config when positive.
func (c *Container) EffectiveTimeout(service string, configTimeout time.Duration) time.Duration {
	if timeout := c.settings.Current().Services.TimeoutFor(service); timeout > 0 {
		return timeout
	}
	return configTimeout
}

// EffectiveBackend resolves the backend name for a kind.
func (c *Container) EffectiveBackend(kind backends.Kind) string {
	pipeline := c.settings.Current().Pipeline
	switch kind {
	case backends.KindParser:
		if pipeline.ParserBackend != "" {
			return pipeline.ParserBackend
		}
		return c.cfg.Pipeline.ParserBackend
	case backends.KindArchive:
		if pipeline.ArchiveBackend != "" {
			return pipeline.ArchiveBackend
		}
		return c.cfg.Pipeline.ArchiveBackend
	case backends.KindRAG:
		if pipeline.RAGBackend != "" {
			return pipeline.RAGBackend
		}
		return c.cfg.Pipeline.RAGBackend
	case backends.KindVectorStore:
		if pipeline.VectorStoreBackend != "" {
			return pipeline.VectorStoreBackend
		}
		return c.cfg.Pipeline.VectorStoreBackend
	case backends.KindEmbedder:
		return c.cfg.Embedding.Backend
	case backends.KindLLM:
		return c.cfg.LLM.Backend
	}
	return ""
}

// EffectiveMergeStrategy resolves the metadata merge strategy.
func (c *Container) EffectiveMergeStrategy() string {
	if s := c.settings.Current().Pipeline.MetadataMergeStrategy; s != "" {
		return s
	}
	return c.cfg.Pipeline.MetadataMergeStrategy
}

// EffectiveFilenameTemplate resolves the archive filename template.
func (c *Container) EffectiveFilenameTemplate() string {
	if t := c.settings.Current().Pipeline.FilenameTemplate; t != "" {
		return t
	}
	return c.cfg.Pipeline.FilenameTemplate
}

// ContextualEnrichmentEnabled resolves the per-chunk enrichment toggle.
func (c *Container) ContextualEnrichmentEnabled() bool {
	if v := c.settings.Current().Pipeline.ContextualEnrichmentEnabled; v != nil {
		return *v
	}
	return c.cfg.Pipeline.ContextualEnrichmentEnabled
}

// Registry exposes the backend table, mainly for the status command.
func (c *Container) Registry() *backends.Registry { return c.registry }

// backend is the shared accessor path: effective name, registry create,
// availability probe, cache.
func (c *Container) backend(ctx context.Context, kind backends.Kind) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendLocked(ctx, kind)
}

func (c *Container) backendLocked(ctx context.Context, kind backends.Kind) (any, error) {
	if cached, ok := c.instances[kind]; ok {
		return cached, nil
	}
	name := c.EffectiveBackend(kind)
	built, err := c.registry.Create(ctx, kind, name, c)
	if err != nil {
		return nil, err
	}
	if !probeAvailable(ctx, built) {
		return nil, fmt.Errorf("%w: %s backend %q is not available",
			domain.ErrServiceUnavailable, kind, name)
	}
	c.instances[kind] = built
	c.logger.Debug("backend ready", "kind", kind, "name", name)
	return built, nil
}

func probeAvailable(ctx context.Context, backend any) bool {
	switch probe := backend.(type) {
	case interface{ IsAvailable(context.Context) bool }:
		return probe.IsAvailable(ctx)
	case interface{ IsConfigured() bool }:
		return probe.IsConfigured()
	default:
		return true
	}
}

func (c *Container) Parser(ctx context.Context) (domain.Parser, error) {
	built, err := c.backend(ctx, backends.KindParser)
	if err != nil {
		return nil, err
	}
	return built.(domain.Parser), nil
}

func (c *Container) Archive(ctx context.Context) (domain.Archive, error) {
	built, err := c.backend(ctx, backends.KindArchive)
	if err != nil {
		return nil, err
	}
	return built.(domain.Archive), nil
}

func (c *Container) RAG(ctx context.Context) (domain.RAG, error) {
	built, err := c.backend(ctx, backends.KindRAG)
	if err != nil {
		return nil, err
	}
	return built.(domain.RAG), nil
}

func (c *Container) VectorStore(ctx context.Context) (domain.VectorStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vectorStoreLocked(ctx)
}

func (c *Container) vectorStoreLocked(ctx context.Context) (domain.VectorStore, error) {
	built, err := c.backendLocked(ctx, backends.KindVectorStore)
	if err != nil {
		return nil, err
	}
	return built.(domain.VectorStore), nil
}

func (c *Container) Embedder(ctx context.Context) (domain.Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedderLocked(ctx)
}

func (c *Container) embedderLocked(ctx context.Context) (domain.Embedder, error) {
	built, err := c.backendLocked(ctx, backends.KindEmbedder)
	if err != nil {
		return nil, err
	}
	return built.(domain.Embedder), nil
}

func (c *Container) LLM(ctx context.Context) (domain.LLM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.llmLocked(ctx)
}

func (c *Container) llmLocked(ctx context.Context) (domain.LLM, error) {
	built, err := c.backendLocked(ctx, backends.KindLLM)
	if err != nil {
		return nil, err
	}
	return built.(domain.LLM), nil
}

// Tika returns the text-extraction client, or a configuration error when no
// URL is set.
func (c *Container) Tika() (*tika.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tikaClient != nil {
		return c.tikaClient, nil
	}
	url := c.EffectiveURL("tika", c.cfg.Services.Tika.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: tika url not configured", domain.ErrConfigurationError)
	}
	client, err := tika.New(url, c.EffectiveTimeout("tika", c.cfg.Services.Tika.Timeout))
	if err != nil {
		return nil, err
	}
	c.tikaClient = client
	return client, nil
}

// Renderer returns the PDF renderer client, or a configuration error when
// no URL is set.
func (c *Container) Renderer() (*renderer.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rendererCli != nil {
		return c.rendererCli, nil
	}
	url := c.EffectiveURL("renderer", c.cfg.Services.Renderer.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: renderer url not configured", domain.ErrConfigurationError)
	}
	client, err := renderer.New(url, c.EffectiveTimeout("renderer", c.cfg.Services.Renderer.Timeout))
	if err != nil {
		return nil, err
	}
	c.rendererCli = client
	return client, nil
}

// Enricher returns the LLM enrichment service.
func (c *Container) Enricher(ctx context.Context) (*enrichment.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enricherLocked(ctx)
}

func (c *Container) enricherLocked(ctx context.Context) (*enrichment.Service, error) {
	if c.enricher != nil {
		return c.enricher, nil
	}
	llm, err := c.llmLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.enricher = enrichment.NewService(llm, c.cfg.Enrichment.MaxTokens, c.cfg.Enrichment.ContextWindow)
	return c.enricher, nil
}

// Chunker returns the configured chunking strategy. The hybrid method needs
// the parser server URL and quietly degrades to fixed without one.
func (c *Container) Chunker(ctx context.Context) (domain.Chunker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunkerLocked(ctx)
}

func (c *Container) chunkerLocked(ctx context.Context) (domain.Chunker, error) {
	if c.textSplit != nil {
		return c.textSplit, nil
	}
	chunkCfg := c.cfg.Chunker
	if chunkCfg.Method == "hybrid" {
		parserURL := c.EffectiveURL("parser", c.cfg.Services.Parser.URL)
		if parserURL != "" {
			hybrid, err := chunker.NewHybrid(parserURL,
				c.EffectiveTimeout("parser", c.cfg.Services.Parser.Timeout),
				chunkCfg.MaxTokens, chunkCfg.Overlap)
			if err != nil {
				return nil, err
			}
			c.textSplit = hybrid
			return hybrid, nil
		}
		c.logger.Warn("hybrid chunking requested but no parser url configured, using fixed")
	}
	fixed, err := chunker.NewFixed(chunkCfg.MaxTokens, chunkCfg.Overlap)
	if err != nil {
		return nil, err
	}
	c.textSplit = fixed
	return fixed, nil
}

// State returns the run-state store, opening it on first use.
func (c *Container) State() (*state.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateStore != nil {
		return c.stateStore, nil
	}
	store, err := state.Open(c.cfg.StateDBPath())
	if err != nil {
		return nil, err
	}
	c.stateStore = store
	return store, nil
}

// Scheduler returns the scheduler handle, creating it with run on first
// call. Later calls ignore run; ResetServices keeps the handle.
func (c *Container) Scheduler(run scheduler.RunFunc) *scheduler.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched == nil {
		c.sched = scheduler.New(run)
	}
	return c.sched
}

// ResetServices drops every cached backend and client so the next accessor
// call rebuilds from current settings. The settings service, the state
// store, and the scheduler survive.
func (c *Container) ResetServices() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if store, ok := c.instances[backends.KindVectorStore]; ok {
		if closer, ok := store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	c.instances = make(map[backends.Kind]any)
	c.tikaClient = nil
	c.rendererCli = nil
	c.enricher = nil
	c.textSplit = nil
}

// Reset clears everything: services, settings (reloaded from disk), the
// state store, and the scheduler.
func (c *Container) Reset() {
	c.ResetServices()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Reload()
	if c.stateStore != nil {
		_ = c.stateStore.Close()
		c.stateStore = nil
	}
	if c.sched != nil {
		c.sched.Stop()
		c.sched = nil
	}
}

// Close releases held resources at process shutdown.
func (c *Container) Close() {
	c.Reset()
}
