package backends

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docland/docland/pkg/config"
	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/settings"
)

// Kind names a backend slot the pipeline consumes.
type Kind string

const (
	KindParser      Kind = "parser"
	KindArchive     Kind = "archive"
	KindRAG         Kind = "rag"
	KindVectorStore Kind = "vector_store"
	KindEmbedder    Kind = "embedder"
	KindLLM         Kind = "llm"
)

// Container is the view of the service container a factory receives.
// Factories pull effective configuration through it; backends keep no
// reference back to the container.
type Container interface {
	Cfg() *config.Config
	Settings() *settings.Service
	EffectiveURL(service, configURL string) string
	EffectiveTimeout(service string, configTimeout time.Duration) time.Duration
	EffectiveBackend(kind Kind) string
}

// Factory builds a configured backend instance. The concrete type depends
// on the kind; the container's accessors assert it.
type Factory func(ctx context.Context, c Container) (any, error)

// Registry maps (kind, name) to a factory. Registration happens at process
// start; the service container is the only caller of Create.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]map[string]Factory)}
}

// Register installs a factory for (kind, name), replacing any previous one.
func (r *Registry) Register(kind Kind, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[kind] == nil {
		r.factories[kind] = make(map[string]Factory)
	}
	r.factories[kind][name] = f
}

// RegisterNotImplemented reserves a known backend name whose construction
// fails until an implementation lands.
func (r *Registry) RegisterNotImplemented(kind Kind, name string) {
	r.Register(kind, name, func(ctx context.Context, c Container) (any, error) {
		return nil, fmt.Errorf("%w: %s backend %q", domain.ErrNotImplemented, kind, name)
	})
}

// Create builds the named backend. Unknown names fail with the registered
// set in the message.
func (r *Registry) Create(ctx context.Context, kind Kind, name string, c Container) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind][name]
	r.mu.RUnlock()

	if !ok {
		known := r.Names(kind)
		if len(known) == 0 {
			return nil, fmt.Errorf("%w: no %s backends registered", domain.ErrBackendUnknown, kind)
		}
		return nil, fmt.Errorf("%w: no %s backend named %q (known: %s)",
			domain.ErrBackendUnknown, kind, name, strings.Join(known, ", "))
	}

	backend, err := factory(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create %s backend %q: %w", kind, name, err)
	}
	return backend, nil
}

// Names enumerates the registered names for a kind, sorted.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[kind]))
	for name := range r.factories[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether (kind, name) is registered.
func (r *Registry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind][name]
	return ok
}
