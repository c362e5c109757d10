// Package store provides the durable SQLite state behind the sync engine:
// watermarks, the commit map, the PR sync log, the conflict queue, the audit
// log, and orchestrator state snapshots.
//
// The database runs in embedded mode with WAL so readers do not block the
// single writer. Schema migrations are tracked in the SQLite user_version
// pragma and are idempotent. Every multi-table mutation that must be atomic
// goes through one transaction; in particular a watermark advance is always
// journalled together with the commit-map insert it acknowledges.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Watermark sources. Exactly one row exists per source.
const (
	// WatermarkSvnLastRev is the greatest SVN revision durably applied to Git.
	WatermarkSvnLastRev = "svn_last_rev"
	// WatermarkGitLastPRTime is the merge timestamp of the latest processed PR.
	WatermarkGitLastPRTime = "git_last_pr_time"
)

// Sync directions recorded in the commit map.
const (
	DirectionSvnToGit = "svn_to_git"
	DirectionGitToSvn = "git_to_svn"
)

// Sentinel errors surfaced to callers that branch on them.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrAlreadyResolved means a conflict was resolved twice.
	ErrAlreadyResolved = errors.New("store: conflict already resolved")
)

// migrations are applied in order; the current version lives in the SQLite
// user_version pragma.
var migrations = []struct {
	version     int
	description string
	sql         string
}{
	{
		version:     1,
		description: "initial schema",
		sql: `
	CREATE TABLE IF NOT EXISTS commit_map (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		svn_rev     INTEGER NOT NULL,
		git_sha     TEXT    NOT NULL,
		direction   TEXT    NOT NULL CHECK (direction IN ('svn_to_git', 'git_to_svn')),
		synced_at   TEXT    NOT NULL,
		svn_author  TEXT    NOT NULL DEFAULT '',
		git_author  TEXT    NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_commit_map_svn_rev ON commit_map (svn_rev);
	CREATE INDEX IF NOT EXISTS idx_commit_map_git_sha ON commit_map (git_sha);

	CREATE TABLE IF NOT EXISTS watermarks (
		source      TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		action      TEXT NOT NULL,
		direction   TEXT,
		svn_rev     INTEGER,
		git_sha     TEXT,
		author      TEXT,
		details     TEXT,
		success     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log (created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log (action);

	CREATE TABLE IF NOT EXISTS conflicts (
		id               TEXT PRIMARY KEY,
		file_path        TEXT NOT NULL,
		conflict_type    TEXT NOT NULL,
		svn_content      BLOB,
		git_content      BLOB,
		base_content     BLOB,
		svn_rev          INTEGER,
		git_sha          TEXT,
		status           TEXT NOT NULL DEFAULT 'detected',
		resolution       TEXT,
		resolved_content BLOB,
		resolved_by      TEXT,
		created_at       TEXT NOT NULL,
		resolved_at      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts (status);
	CREATE INDEX IF NOT EXISTS idx_conflicts_file_path ON conflicts (file_path);

	CREATE TABLE IF NOT EXISTS kv_state (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	`,
	},
	{
		version:     2,
		description: "PR sync log",
		sql: `
	CREATE TABLE IF NOT EXISTS pr_sync_log (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		pr_number       INTEGER NOT NULL,
		pr_title        TEXT NOT NULL DEFAULT '',
		pr_branch       TEXT NOT NULL DEFAULT '',
		merge_sha       TEXT NOT NULL,
		merge_strategy  TEXT NOT NULL DEFAULT 'unknown',
		svn_rev_start   INTEGER,
		svn_rev_end     INTEGER,
		commit_count    INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT 'pending',
		error_message   TEXT,
		detected_at     TEXT NOT NULL,
		completed_at    TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pr_sync_log_merge_sha ON pr_sync_log (merge_sha);
	CREATE INDEX IF NOT EXISTS idx_pr_sync_log_status ON pr_sync_log (status);
	`,
	},
}

// Store wraps the SQLite connection.
type Store struct {
	db   *sql.DB
	path string
	log  *logrus.Entry
}

// Open creates or opens the database at path and applies pending migrations.
// The caller must Close the store when done.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single writer keeps transaction semantics simple; WAL still lets
	// readers proceed concurrently.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, log: logger.WithField("component", "store")}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a fresh in-memory store, for tests.
func OpenInMemory(logger *logrus.Logger) (*Store, error) {
	return Open(":memory:", logger)
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.WithError(err).Warn("failed to checkpoint WAL on close")
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// migrate applies all pending migrations, bumping user_version after each.
func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"version":     m.version,
			"description": m.description,
		}).Info("applying migration")
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("failed to set schema version %d: %w", m.version, err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil return and rolling
// back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// now returns the canonical timestamp format used across all tables.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// GetState reads a free-form key/value entry. ok is false when absent.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read kv_state %q: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts a free-form key/value entry.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now())
	if err != nil {
		return fmt.Errorf("failed to set kv_state %q: %w", key, err)
	}
	return nil
}

// stateKeySyncState holds the orchestrator's last snapshotted state.
const stateKeySyncState = "sync_state"

// SnapshotSyncState persists the orchestrator state. Called at every
// transition so crash recovery can inspect where the previous run stopped.
func (s *Store) SnapshotSyncState(ctx context.Context, state string) error {
	return s.SetState(ctx, stateKeySyncState, state)
}

// LoadSyncState returns the last snapshotted orchestrator state, or "" when
// none was recorded yet.
func (s *Store) LoadSyncState(ctx context.Context) (string, error) {
	state, _, err := s.GetState(ctx, stateKeySyncState)
	return state, err
}
