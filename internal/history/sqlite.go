package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a SQLite database so they survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path and ensures
// the invocations table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, `CREATE TABLE IF NOT EXISTS invocations (
  id           TEXT PRIMARY KEY,
  model        TEXT NOT NULL,
  status       TEXT NOT NULL,
  kind         TEXT,
  detail       TEXT,
  input_digest TEXT NOT NULL,
  input_bytes  INTEGER NOT NULL,
  output       TEXT,
  duration_ms  INTEGER NOT NULL,
  created_at   TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts or replaces a record.
func (s *SQLiteStore) Save(rec *Record) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO invocations
  (id, model, status, kind, detail, input_digest, input_bytes, output, duration_ms, created_at)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, string(rec.Status), rec.Kind, rec.Detail,
		rec.InputDigest, rec.InputBytes, rec.Output, rec.DurationMS,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads a record by ID.
func (s *SQLiteStore) Load(id string) (*Record, error) {
	var (
		rec       Record
		status    string
		kind      sql.NullString
		detail    sql.NullString
		output    sql.NullString
		createdAt string
	)
	err := s.db.QueryRow(`SELECT id, model, status, kind, detail, input_digest, input_bytes, output, duration_ms, created_at
  FROM invocations WHERE id = ?`, id).Scan(
		&rec.ID, &rec.Model, &status, &kind, &detail,
		&rec.InputDigest, &rec.InputBytes, &output, &rec.DurationMS, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", id, err)
	}

	rec.Status = Status(status)
	rec.Kind = kind.String
	rec.Detail = detail.String
	rec.Output = output.String
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", id, err)
	}
	return &rec, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
