// Package state persists per-scraper run records in a local sqlite file.
// The pipeline core treats it as opaque: the container reads "when did this
// scraper last run and how did it go" through here.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docland/docland/pkg/domain"
)

// historyCap bounds retained runs per scraper; older rows are pruned on
// every write.
const historyCap = 50

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scraper     TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	result      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_scraper ON runs(scraper, id DESC);
`

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	ID         int64                 `json:"id"`
	Scraper    string                `json:"scraper"`
	Status     domain.RunStatus      `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Result     domain.PipelineResult `json:"result"`
}

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and
// ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	// sqlite handles one writer; keep the pool at a single connection to
	// avoid SQLITE_BUSY under concurrent scheduled runs.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordRun appends one run and prunes history beyond the per-scraper cap.
func (s *Store) RecordRun(ctx context.Context, scraperName string, startedAt, finishedAt time.Time, result *domain.PipelineResult) error {
	if scraperName == "" {
		return fmt.Errorf("%w: run record requires a scraper name", domain.ErrInvalidInput)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (scraper, status, started_at, finished_at, result) VALUES (?, ?, ?, ?, ?)`,
		scraperName, string(result.Status),
		startedAt.UTC().Format(time.RFC3339), finishedAt.UTC().Format(time.RFC3339),
		string(payload))
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE scraper = ? AND id NOT IN (
			SELECT id FROM runs WHERE scraper = ? ORDER BY id DESC LIMIT ?)`,
		scraperName, scraperName, historyCap)
	if err != nil {
		return fmt.Errorf("prune run history: %w", err)
	}
	return nil
}

// LastRun returns the most recent run for a scraper, nil when none exists.
func (s *Store) LastRun(ctx context.Context, scraperName string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scraper, status, started_at, finished_at, result
		 FROM runs WHERE scraper = ? ORDER BY id DESC LIMIT 1`, scraperName)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// History returns up to limit most-recent runs, newest first.
func (s *Store) History(ctx context.Context, scraperName string, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scraper, status, started_at, finished_at, result
		 FROM runs WHERE scraper = ? ORDER BY id DESC LIMIT ?`, scraperName, limit)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Scrapers lists every scraper that has at least one recorded run.
func (s *Store) Scrapers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scraper FROM runs ORDER BY scraper`)
	if err != nil {
		return nil, fmt.Errorf("query scrapers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var status, started, finished, payload string
	if err := row.Scan(&record.ID, &record.Scraper, &status, &started, &finished, &payload); err != nil {
		return nil, err
	}
	record.Status = domain.RunStatus(status)
	if t, err := time.Parse(time.RFC3339, started); err == nil {
		record.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, finished); err == nil {
		record.FinishedAt = t
	}
	if err := json.Unmarshal([]byte(payload), &record.Result); err != nil {
		return nil, fmt.Errorf("decode run result: %w", err)
	}
	return &record, nil
}
