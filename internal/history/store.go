// Package history archives terminal jobs in a local SQLite database after
// the queue lets go of them.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"matrice/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

var (
	ErrSchemaMismatch = errors.New("history: schema version mismatch")
	ErrNotTerminal    = errors.New("history: job is not terminal")
)

// Store is a domain.JobArchive backed by SQLite.
type Store struct {
	db    *sql.DB
	path  string
	clock func() time.Time
}

// Open creates or opens the archive at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: ensure directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, clock: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("history: create schema: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("history: record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("history: read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit schema: %w", err)
	}
	return nil
}

// Record upserts a terminal job keyed by its ID.
func (s *Store) Record(ctx context.Context, job domain.Job) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, job.ID, job.Status)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("history: encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_history (id, status, failure_kind, seed, start_time, end_time, archived_at, data)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            failure_kind = excluded.failure_kind,
            seed = excluded.seed,
            start_time = excluded.start_time,
            end_time = excluded.end_time,
            archived_at = excluded.archived_at,
            data = excluded.data`,
		job.ID,
		string(job.Status),
		string(job.FailureKind),
		job.Seed,
		job.StartTime.UnixMilli(),
		job.EndTime.UnixMilli(),
		s.clock().UTC().Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", job.ID, err)
	}
	return nil
}

// List returns up to limit archived jobs, most recently finished first.
func (s *Store) List(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM job_history ORDER BY end_time DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("history: decode: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Count reports how many jobs are archived.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM job_history").Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

var _ domain.JobArchive = (*Store)(nil)
