package domain

import (
	"context"
	"time"
)

// The pipeline consumes backends only through these contracts; concrete
// implementations sit behind the backend registry.

// Parser converts a raw artifact into canonical markdown plus extracted
// metadata. Failures are reported inside the result, not as a Go error.
type Parser interface {
	Name() string
	Parse(ctx context.Context, path string, meta *DocumentMetadata) ParserResult
	IsAvailable(ctx context.Context) bool
	SupportedExtensions() []string
}

// ArchiveRequest carries everything one archive upload needs.
type ArchiveRequest struct {
	Path          string
	Title         string
	Created       string // ISO-8601, optional
	Correspondent string // optional
	Tags          []string
	Metadata      map[string]any // applied as custom fields after verification
}

// Archive uploads artifacts to the long-term document archive and confirms
// they were persisted.
type Archive interface {
	Name() string
	IsConfigured() bool
	Archive(ctx context.Context, req ArchiveRequest) ArchiveResult
	// Verify polls until the uploaded task resolves to a concrete archived
	// document or the timeout expires.
	Verify(ctx context.Context, documentID string, timeout time.Duration) bool
}

// RAG lands a document in the retrieval index. Ingest never returns a Go
// error: RAG failures are non-fatal to the pipeline and ride in the result.
type RAG interface {
	Name() string
	IsConfigured() bool
	IsAvailable(ctx context.Context) bool
	TestConnection(ctx context.Context) error
	Ingest(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) RAGResult
	ListDocuments(ctx context.Context, collectionID string) ([]string, error)
}

// VectorStore persists embedded chunks partitioned by source.
type VectorStore interface {
	// EnsureReady bootstraps the schema; idempotent and safe to call
	// concurrently.
	EnsureReady(ctx context.Context) error
	// Store replaces all rows for (source, filename) with the given chunks
	// atomically and returns the number of rows written. documentID, when
	// non-empty, is injected into every row's metadata.
	Store(ctx context.Context, source, filename string, chunks []EmbeddedChunk, documentID string) (int, error)
	Delete(ctx context.Context, source, filename string) (int, error)
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchHit, error)
	GetSources(ctx context.Context) ([]string, error)
	// ListFilenames enumerates the distinct documents under a source.
	ListFilenames(ctx context.Context, source string) ([]string, error)
	GetStats(ctx context.Context) (*StoreStats, error)
	GetDocumentChunks(ctx context.Context, source, filename string) ([]StoredChunk, error)
	Close() error
}

// Embedder turns texts into vectors, batching internally.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) (*EmbeddingResult, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	IsAvailable(ctx context.Context) bool
}

// LLM is the chat-completion contract used by enrichment.
type LLM interface {
	Name() string
	Chat(ctx context.Context, messages []ChatMessage, opts *ChatOptions) (*ChatResponse, error)
	IsAvailable(ctx context.Context) bool
}

// Chunker splits text into ordered, overlap-aware chunks. The metadata map
// is shallow-copied into every chunk.
type Chunker interface {
	Chunk(ctx context.Context, text string, metadata map[string]any) ([]Chunk, error)
}
