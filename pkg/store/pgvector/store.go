package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

const (
	searchLimitMax = 1000
)

// Config carries everything the store needs at construction.
type Config struct {
	URL            string
	TableName      string
	ViewName       string // empty disables the compatibility view
	Dimensions     int
	DropOnMismatch bool
	PoolMinConns   int
	PoolMaxConns   int
}

// Store is a pgvector-backed VectorStore partitioned by source. One
// partition per source, each with its own HNSW cosine index; writes replace
// a document's rows atomically.
type Store struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	schemaEnsured bool
	partitions    map[string]bool
}

// New connects the pool. The schema is bootstrapped lazily by EnsureReady.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: pgvector store requires a database url", domain.ErrConfigurationError)
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("%w: pgvector store requires a table name", domain.ErrConfigurationError)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: pgvector store requires positive dimensions, got %d",
			domain.ErrConfigurationError, cfg.Dimensions)
	}
	if cfg.ViewName != "" {
		if err := ValidateViewName(cfg.ViewName); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database url: %v", domain.ErrConfigurationError, err)
	}
	if cfg.PoolMinConns > 0 {
		poolCfg.MinConns = int32(cfg.PoolMinConns)
	}
	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.PoolMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create connection pool: %v", domain.ErrVectorStoreFailed, err)
	}

	return &Store{
		pool:       pool,
		cfg:        cfg,
		logger:     log.WithModule("pgvector"),
		partitions: make(map[string]bool),
	}, nil
}

// EnsureReady bootstraps the schema once. Safe to call concurrently and
// repeatedly; the flag is checked on both sides of the lock.
func (s *Store) EnsureReady(ctx context.Context) error {
	if s.ensured() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schemaEnsured {
		return nil
	}

	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: create vector extension: %v", domain.ErrVectorStoreFailed, err)
	}

	existing, err := s.existingDimensions(ctx)
	if err != nil {
		return err
	}

	switch {
	case existing == 0:
		// No table yet.
	case existing == s.cfg.Dimensions:
		s.schemaEnsured = true
		return nil
	default:
		var rows int64
		if err := s.pool.QueryRow(ctx,
			fmt.Sprintf("SELECT count(*) FROM %s", s.cfg.TableName)).Scan(&rows); err != nil {
			return fmt.Errorf("%w: count rows: %v", domain.ErrVectorStoreFailed, err)
		}
		if rows > 0 && !s.cfg.DropOnMismatch {
			return dimensionMismatchError(s.cfg.TableName, existing, s.cfg.Dimensions, rows)
		}
		s.logger.Warn("dropping table with mismatched embedding dimensions",
			"table", s.cfg.TableName, "existing", existing,
			"configured", s.cfg.Dimensions, "rows", rows)
		if _, err := s.pool.Exec(ctx,
			fmt.Sprintf("DROP TABLE %s CASCADE", s.cfg.TableName)); err != nil {
			return fmt.Errorf("%w: drop mismatched table: %v", domain.ErrVectorStoreFailed, err)
		}
		s.partitions = make(map[string]bool)
	}

	if _, err := s.pool.Exec(ctx, parentTableSQL(s.cfg.TableName, s.cfg.Dimensions)); err != nil {
		return fmt.Errorf("%w: create table %s: %v", domain.ErrVectorStoreFailed, s.cfg.TableName, err)
	}
	if _, err := s.pool.Exec(ctx, metadataIndexSQL(s.cfg.TableName)); err != nil {
		return fmt.Errorf("%w: create metadata index: %v", domain.ErrVectorStoreFailed, err)
	}
	if s.cfg.ViewName != "" {
		if _, err := s.pool.Exec(ctx, compatViewSQL(s.cfg.ViewName, s.cfg.TableName)); err != nil {
			return fmt.Errorf("%w: create view %s: %v", domain.ErrVectorStoreFailed, s.cfg.ViewName, err)
		}
	}

	s.logger.Info("schema ready", "table", s.cfg.TableName, "dimensions", s.cfg.Dimensions)
	s.schemaEnsured = true
	return nil
}

func (s *Store) ensured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaEnsured
}

// existingDimensions reads the embedding column width of the current table,
// zero when the table does not exist.
func (s *Store) existingDimensions(ctx context.Context) (int, error) {
	var dims int
	err := s.pool.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND a.attname = 'embedding' AND n.nspname = current_schema()`,
		s.cfg.TableName).Scan(&dims)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: inspect embedding column: %v", domain.ErrVectorStoreFailed, err)
	}
	return dims, nil
}

// ensurePartition creates the per-source partition and its HNSW index on
// first use. DDL runs under the lock; known partitions are memoized.
func (s *Store) ensurePartition(ctx context.Context, source string) error {
	if err := ValidateSourceName(source); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partitions[source] {
		return nil
	}

	if _, err := s.pool.Exec(ctx, partitionSQL(s.cfg.TableName, source)); err != nil {
		return fmt.Errorf("%w: create partition for %s: %v", domain.ErrVectorStoreFailed, source, err)
	}
	if _, err := s.pool.Exec(ctx, hnswIndexSQL(s.cfg.TableName, source)); err != nil {
		return fmt.Errorf("%w: create hnsw index for %s: %v", domain.ErrVectorStoreFailed, source, err)
	}

	s.logger.Debug("partition ready", "source", source,
		"partition", PartitionName(s.cfg.TableName, source))
	s.partitions[source] = true
	return nil
}

// Store replaces all rows for (source, filename) with chunks, atomically.
// The delete and insert share a savepoint so a failed insert leaves the
// prior rows in place.
func (s *Store) Store(ctx context.Context, source, filename string, chunks []domain.EmbeddedChunk, documentID string) (int, error) {
	if filename == "" {
		return 0, fmt.Errorf("%w: filename is empty", domain.ErrInvalidInput)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no chunks to store", domain.ErrInvalidInput)
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			return 0, fmt.Errorf("%w: chunk %d has no content", domain.ErrInvalidInput, i)
		}
		if len(chunk.Embedding) == 0 {
			return 0, fmt.Errorf("%w: chunk %d has no embedding", domain.ErrInvalidInput, i)
		}
	}

	if err := s.ensurePartition(ctx, source); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %v", domain.ErrVectorStoreFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Nested transaction = savepoint: a failure rolls the delete back too.
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: create savepoint: %v", domain.ErrVectorStoreFailed, err)
	}

	written, err := s.replaceRows(ctx, sp, source, filename, chunks, documentID)
	if err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: release savepoint: %v", domain.ErrVectorStoreFailed, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", domain.ErrVectorStoreFailed, err)
	}

	s.logger.Debug("stored document chunks",
		"source", source, "filename", filename, "rows", written)
	return written, nil
}

func (s *Store) replaceRows(ctx context.Context, tx pgx.Tx, source, filename string, chunks []domain.EmbeddedChunk, documentID string) (int, error) {
	if _, err := tx.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE source = $1 AND filename = $2", s.cfg.TableName),
		source, filename); err != nil {
		return 0, fmt.Errorf("%w: delete previous rows: %v", domain.ErrVectorStoreFailed, err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (source, filename, chunk_index, content, embedding, metadata) VALUES ($1, $2, $3, $4, $5, $6)",
		s.cfg.TableName)

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		metadata := make(map[string]any, len(chunk.Metadata)+1)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		if documentID != "" {
			metadata["document_id"] = documentID
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: marshal chunk %d metadata: %v", domain.ErrInvalidInput, chunk.Index, err)
		}
		batch.Queue(insert, source, filename, chunk.Index, chunk.Content,
			pgv.NewVector(chunk.Embedding), metadataJSON)
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("%w: insert chunk: %v", domain.ErrVectorStoreFailed, err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("%w: close batch: %v", domain.ErrVectorStoreFailed, err)
	}
	return len(chunks), nil
}

// Delete removes all rows for (source, filename) and reports how many went.
func (s *Store) Delete(ctx context.Context, source, filename string) (int, error) {
	if err := ValidateSourceName(source); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE source = $1 AND filename = $2", s.cfg.TableName),
		source, filename)
	if err != nil {
		return 0, fmt.Errorf("%w: delete document: %v", domain.ErrVectorStoreFailed, err)
	}
	return int(tag.RowsAffected()), nil
}

// Search runs cosine similarity over the parent table; partition pruning
// applies when a source whitelist is given.
func (s *Store) Search(ctx context.Context, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if opts.Limit < 1 || opts.Limit > searchLimitMax {
		return nil, fmt.Errorf("%w: search limit must be in [1, %d], got %d",
			domain.ErrInvalidInput, searchLimitMax, opts.Limit)
	}

	args := []any{pgv.NewVector(query)}
	if len(opts.Sources) > 0 {
		for _, source := range opts.Sources {
			if err := ValidateSourceName(source); err != nil {
				return nil, err
			}
		}
		args = append(args, opts.Sources)
	}
	if len(opts.MetadataFilter) > 0 {
		filterJSON, err := json.Marshal(opts.MetadataFilter)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal metadata filter: %v", domain.ErrInvalidInput, err)
		}
		args = append(args, filterJSON)
	}

	sql := buildSearchQuery(s.cfg.TableName, len(opts.Sources) > 0, len(opts.MetadataFilter) > 0, opts.Limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search query: %v", domain.ErrVectorStoreFailed, err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var hit domain.SearchHit
		var metadataJSON []byte
		if err := rows.Scan(&hit.Source, &hit.Filename, &hit.ChunkIndex, &hit.Content, &metadataJSON, &hit.Score); err != nil {
			return nil, fmt.Errorf("%w: scan search row: %v", domain.ErrVectorStoreFailed, err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode row metadata: %v", domain.ErrVectorStoreFailed, err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search rows: %v", domain.ErrVectorStoreFailed, err)
	}
	return hits, nil
}

// GetSources lists the distinct source partitions with data.
func (s *Store) GetSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT source FROM %s ORDER BY source", s.cfg.TableName))
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %v", domain.ErrVectorStoreFailed, err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("%w: scan source: %v", domain.ErrVectorStoreFailed, err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// ListFilenames enumerates the distinct documents stored under a source.
func (s *Store) ListFilenames(ctx context.Context, source string) ([]string, error) {
	if err := ValidateSourceName(source); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT filename FROM %s WHERE source = $1 ORDER BY filename", s.cfg.TableName),
		source)
	if err != nil {
		return nil, fmt.Errorf("%w: list filenames: %v", domain.ErrVectorStoreFailed, err)
	}
	defer rows.Close()

	var filenames []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, fmt.Errorf("%w: scan filename: %v", domain.ErrVectorStoreFailed, err)
		}
		filenames = append(filenames, filename)
	}
	return filenames, rows.Err()
}

// GetStats reports row counts per source and in total.
func (s *Store) GetStats(ctx context.Context) (*domain.StoreStats, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT source, count(*) FROM %s GROUP BY source ORDER BY source", s.cfg.TableName))
	if err != nil {
		return nil, fmt.Errorf("%w: collect stats: %v", domain.ErrVectorStoreFailed, err)
	}
	defer rows.Close()

	stats := &domain.StoreStats{Sources: make(map[string]int64)}
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("%w: scan stats: %v", domain.ErrVectorStoreFailed, err)
		}
		stats.Sources[source] = count
		stats.TotalRows += count
	}
	return stats, rows.Err()
}

// GetDocumentChunks returns a document's rows in chunk order.
func (s *Store) GetDocumentChunks(ctx context.Context, source, filename string) ([]domain.StoredChunk, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT source, filename, chunk_index, content, metadata FROM %s WHERE source = $1 AND filename = $2 ORDER BY chunk_index",
			s.cfg.TableName),
		source, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: read document chunks: %v", domain.ErrVectorStoreFailed, err)
	}
	defer rows.Close()

	var chunks []domain.StoredChunk
	for rows.Next() {
		var chunk domain.StoredChunk
		var metadataJSON []byte
		if err := rows.Scan(&chunk.Source, &chunk.Filename, &chunk.ChunkIndex, &chunk.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", domain.ErrVectorStoreFailed, err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode chunk metadata: %v", domain.ErrVectorStoreFailed, err)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
