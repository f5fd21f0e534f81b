package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the database at path, creating it and its schema when
// missing. The path must live on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps busy errors away from the HTTP handlers.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates the operator and thread tables if they do not exist.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS operator (
  operator_id  INTEGER PRIMARY KEY AUTOINCREMENT,
  login        TEXT NOT NULL UNIQUE,
  name         TEXT NOT NULL DEFAULT '',
  code         TEXT UNIQUE,
  permissions  INTEGER NOT NULL DEFAULT 0,
  created_at   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS thread (
  thread_id   INTEGER PRIMARY KEY AUTOINCREMENT,
  state       TEXT NOT NULL,
  user_name   TEXT NOT NULL DEFAULT '',
  remote      TEXT NOT NULL DEFAULT '',
  referer     TEXT NOT NULL DEFAULT '',
  agent_id    INTEGER NOT NULL DEFAULT 0,
  next_agent  INTEGER NOT NULL DEFAULT 0,
  created_at  TEXT NOT NULL,
  modified_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS thread_state_created_idx ON thread(state, created_at);`,
		`CREATE INDEX IF NOT EXISTS thread_next_agent_idx ON thread(next_agent);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
