package pgvector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docland/docland/pkg/domain"
)

// sourceNamePattern guards every identifier that ends up inside DDL. The
// same pattern applies to the compatibility view name.
var sourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSourceName rejects source values that cannot safely name a
// partition table.
func ValidateSourceName(source string) error {
	if source == "" {
		return fmt.Errorf("%w: source name is empty", domain.ErrInvalidInput)
	}
	if !sourceNamePattern.MatchString(source) {
		return fmt.Errorf("%w: source name %q must match %s",
			domain.ErrInvalidInput, source, sourceNamePattern.String())
	}
	return nil
}

// ValidateViewName applies the same identifier rule to the optional
// compatibility view.
func ValidateViewName(view string) error {
	if !sourceNamePattern.MatchString(view) {
		return fmt.Errorf("%w: view name %q must match %s",
			domain.ErrInvalidInput, view, sourceNamePattern.String())
	}
	return nil
}

// sanitizeIdentifier maps a validated source to its identifier fragment;
// hyphens become underscores so the partition name stays a bare identifier.
func sanitizeIdentifier(source string) string {
	return strings.ReplaceAll(source, "-", "_")
}

// PartitionName returns the partition table name for a source.
func PartitionName(table, source string) string {
	return fmt.Sprintf("%s_%s", table, sanitizeIdentifier(source))
}

// hnswIndexName returns the per-partition ANN index name.
func hnswIndexName(source string) string {
	return fmt.Sprintf("idx_%s_embedding_hnsw", sanitizeIdentifier(source))
}

func parentTableSQL(table string, dimensions int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT GENERATED ALWAYS AS IDENTITY,
			source TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source, id)
		) PARTITION BY LIST (source)`, table, dimensions)
}

func metadataIndexSQL(table string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_metadata_gin ON %s USING gin (metadata jsonb_path_ops)",
		table, table)
}

func partitionSQL(table, source string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN ('%s')",
		PartitionName(table, source), table, source)
}

func hnswIndexSQL(table, source string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)",
		hnswIndexName(source), PartitionName(table, source))
}

// compatViewSQL exposes rows under the schema an external RAG consumer
// expects: a deterministic UUID per row, source renamed to namespace, and
// the chunk text folded into the metadata document.
func compatViewSQL(view, table string) string {
	return fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s AS
		SELECT
			md5(source || ':' || filename || ':' || chunk_index || ':' || id)::uuid AS id,
			source AS namespace,
			embedding,
			metadata || jsonb_build_object('text', content) AS metadata
		FROM %s`, view, table)
}

// dimensionMismatchError is the actionable refusal for case 3 of schema
// bootstrap: existing rows, wrong width, no opt-in.
func dimensionMismatchError(table string, existing, configured int, rows int64) error {
	return fmt.Errorf(
		"%w: table %s has embedding column vector(%d) but configuration wants %d dimensions and the table holds %d row(s); "+
			"set PGVECTOR_DROP_ON_MISMATCH=true to drop and recreate it",
		domain.ErrConfigurationError, table, existing, configured, rows)
}

// buildSearchQuery assembles the cosine search statement with optional
// source whitelist and JSONB containment filter. Args line up with the
// returned SQL; the query vector is always $1.
func buildSearchQuery(table string, hasSources, hasFilter bool, limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"SELECT source, filename, chunk_index, content, metadata, 1 - (embedding <=> $1) AS score FROM %s",
		table)

	arg := 2
	var conds []string
	if hasSources {
		conds = append(conds, fmt.Sprintf("source = ANY($%d)", arg))
		arg++
	}
	if hasFilter {
		conds = append(conds, fmt.Sprintf("metadata @> $%d", arg))
		arg++
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT %d", limit)
	return sb.String()
}
