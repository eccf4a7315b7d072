package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/enrichment"
	"github.com/docland/docland/pkg/log"
)

// defaultSource partitions documents that arrive without a collection or a
// source in their metadata.
const defaultSource = "default"

// VectorRAG lands documents in the vector store: chunk, optionally enrich
// for embedding, embed, persist. Ingest never returns a Go error — RAG
// failures are non-fatal to the pipeline and ride inside the result.
type VectorRAG struct {
	name       string
	chunker    domain.Chunker
	embedder   domain.Embedder
	store      domain.VectorStore
	enricher   *enrichment.Service
	contextual bool
	logger     *slog.Logger
}

// Options toggle the optional stages.
type Options struct {
	// ContextualEnrichment prepends an LLM situating paragraph to each
	// chunk before embedding. Storage always keeps the raw content.
	ContextualEnrichment bool
}

func NewVectorRAG(name string, chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, enricher *enrichment.Service, opts Options) (*VectorRAG, error) {
	if chunker == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("%w: vector rag requires chunker, embedder and store", domain.ErrConfigurationError)
	}
	if name == "" {
		name = "pgvector"
	}
	return &VectorRAG{
		name:       name,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		enricher:   enricher,
		contextual: opts.ContextualEnrichment && enricher != nil,
		logger:     log.WithModule("rag"),
	}, nil
}

func (r *VectorRAG) Name() string { return r.name }

func (r *VectorRAG) IsConfigured() bool {
	return r.chunker != nil && r.embedder != nil && r.store != nil
}

func (r *VectorRAG) IsAvailable(ctx context.Context) bool {
	return r.IsConfigured() && r.TestConnection(ctx) == nil
}

// TestConnection verifies the store answers.
func (r *VectorRAG) TestConnection(ctx context.Context) error {
	if err := r.store.EnsureReady(ctx); err != nil {
		return fmt.Errorf("vector store not reachable: %w", err)
	}
	return nil
}

// ListDocuments enumerates filenames under a collection (source).
func (r *VectorRAG) ListDocuments(ctx context.Context, collectionID string) ([]string, error) {
	source := collectionID
	if source == "" {
		source = defaultSource
	}
	return r.store.ListFilenames(ctx, source)
}

// Ingest runs the full chunk-embed-store path for one document.
func (r *VectorRAG) Ingest(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) domain.RAGResult {
	source := resolveSource(collectionID, metadata)
	filename := filepath.Base(contentPath)

	raw, err := os.ReadFile(contentPath)
	if err != nil {
		return r.failure(fmt.Sprintf("read %s: %v", contentPath, err))
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return r.failure(fmt.Sprintf("document %s is empty", filename))
	}

	chunks, err := r.chunker.Chunk(ctx, text, metadata)
	if err != nil {
		return r.failure(fmt.Sprintf("chunking failed: %v", err))
	}
	if len(chunks) == 0 {
		return r.failure(fmt.Sprintf("document %s produced no chunks", filename))
	}

	// Embedding input may be enriched; what gets persisted is always the
	// raw chunk content.
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	if r.contextual {
		situated := r.enricher.SituateChunks(ctx, text, chunks)
		if len(situated) != len(chunks) {
			return r.failure(fmt.Sprintf("contextual enrichment returned %d texts for %d chunks",
				len(situated), len(chunks)))
		}
		texts = situated
	}

	embedded, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return r.failure(fmt.Sprintf("embedding failed: %v", err))
	}
	if len(embedded.Embeddings) != len(chunks) {
		return r.failure(fmt.Sprintf("embedder returned %d vectors for %d chunks",
			len(embedded.Embeddings), len(chunks)))
	}

	documentID, _ := metadata["document_id"].(string)

	rows := make([]domain.EmbeddedChunk, len(chunks))
	for i, chunk := range chunks {
		rows[i] = domain.EmbeddedChunk{
			Content:   chunk.Content,
			Index:     chunk.Index,
			Embedding: embedded.Embeddings[i],
			Metadata:  chunk.Metadata,
		}
	}

	if err := r.store.EnsureReady(ctx); err != nil {
		return r.failure(fmt.Sprintf("vector store not ready: %v", err))
	}
	written, err := r.store.Store(ctx, source, filename, rows, documentID)
	if err != nil {
		return r.failure(fmt.Sprintf("vector store write failed: %v", err))
	}

	r.logger.Info("ingested document",
		"source", source, "filename", filename, "chunks", written,
		"model", embedded.Model, "contextual", r.contextual)

	resultID := documentID
	if resultID == "" {
		resultID = filename
	}
	result, err := domain.NewRAGSuccess(resultID, source, r.name)
	if err != nil {
		return r.failure(err.Error())
	}
	return result
}

func resolveSource(collectionID string, metadata map[string]any) string {
	if collectionID != "" {
		return collectionID
	}
	if source, ok := metadata["source"].(string); ok && source != "" {
		return source
	}
	return defaultSource
}

func (r *VectorRAG) failure(message string) domain.RAGResult {
	r.logger.Warn("rag ingestion failed", "error", message)
	result, err := domain.NewRAGFailure(message, r.name)
	if err != nil {
		return domain.RAGResult{Success: false, Error: "rag ingestion failed", RAGName: r.name}
	}
	return result
}
