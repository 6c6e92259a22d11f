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

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
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
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// hackathons, file_formats, provided_files, submissions and submission_files
// are owned by the surrounding platform; the scoring pipeline only reads them
// and writes the score_* columns. score_runs is the pipeline's own history.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hackathons (
  id                   TEXT PRIMARY KEY,
  name                 TEXT NOT NULL DEFAULT '',
  auto_scoring_enabled INTEGER NOT NULL DEFAULT 0,
  thread_limit         INTEGER NOT NULL DEFAULT 1,
  ram_limit            INTEGER NOT NULL DEFAULT 512,
  submission_timeout   INTEGER NOT NULL DEFAULT 60
);`,
		`CREATE TABLE IF NOT EXISTS file_formats (
  id           TEXT PRIMARY KEY,
  hackathon_id TEXT NOT NULL REFERENCES hackathons(id) ON DELETE CASCADE,
  name         TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS provided_files (
  id             TEXT PRIMARY KEY,
  hackathon_id   TEXT NOT NULL REFERENCES hackathons(id) ON DELETE CASCADE,
  file_format_id TEXT NOT NULL REFERENCES file_formats(id),
  url            TEXT NOT NULL,
  position       INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS submissions (
  id            TEXT PRIMARY KEY,
  team_id       TEXT NOT NULL,
  hackathon_id  TEXT NOT NULL REFERENCES hackathons(id) ON DELETE CASCADE,
  send_at       TEXT,
  score         REAL,
  score_comment TEXT,
  score_manual  INTEGER NOT NULL DEFAULT 0,
  score_id      TEXT,
  scored_at     TEXT,
  score_version INTEGER NOT NULL DEFAULT 0,
  created_at    TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS submission_files (
  id             TEXT PRIMARY KEY,
  submission_id  TEXT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
  file_format_id TEXT NOT NULL REFERENCES file_formats(id),
  url            TEXT NOT NULL,
  position       INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS score_runs (
  id            TEXT PRIMARY KEY,
  submission_id TEXT NOT NULL,
  hackathon_id  TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  score         REAL,
  comment       TEXT,
  stderr        TEXT,
  started_at    TEXT NOT NULL,
  completed_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS submissions_hackathon_idx ON submissions(hackathon_id, send_at);`,
		`CREATE INDEX IF NOT EXISTS submission_files_submission_idx ON submission_files(submission_id, position);`,
		`CREATE INDEX IF NOT EXISTS provided_files_hackathon_idx ON provided_files(hackathon_id, position);`,
		`CREATE INDEX IF NOT EXISTS score_runs_submission_idx ON score_runs(submission_id, completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
