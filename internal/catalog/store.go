// Package catalog is Skillsmith's exclusive persistence owner: a
// sqlite-backed store exposing typed repositories for skills, authors,
// sources, categories, technologies, the blocklist, installed skills, the
// sync schedule and history, the co-install graph, and learning patterns.
// It builds an FTS5 + vector hybrid search store into a
// catalog of structured records rather than chunked document text.
package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Config configures the catalog store.
type Config struct {
	// Path is the sqlite file path (already validated against an allowed
	// data root by pathsafe). Use ":memory:" for tests.
	Path string
	// EmbeddingDims is the fixed context-embedding dimension D. The store
	// refuses to open against a database recorded with a different D.
	EmbeddingDims int
	Logger        *slog.Logger
}

// Store is the sqlite-backed catalog. All reads are non-blocking; writes
// use parameterized statements, and UpsertSkill, RecordInstall,
// RecordCoInstall and DeletePatterns run inside explicit transactions.
type Store struct {
	db     *sql.DB
	dims   int
	logger *slog.Logger
	mu     sync.RWMutex
}

// Open creates or opens the catalog database at cfg.Path, enables WAL
// mode, and runs idempotent schema migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.EmbeddingDims <= 0 {
		cfg.EmbeddingDims = 384
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: foreign keys: %w", err)
	}

	s := &Store{db: db, dims: cfg.EmbeddingDims, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	if err := s.checkEmbeddingDims(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// migrate runs all DDL, guarded by IF NOT EXISTS, and is safe to call
// repeatedly and concurrently across processes.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id           TEXT PRIMARY KEY,
			last_success TIMESTAMP,
			last_error   TEXT NOT NULL DEFAULT '',
			degraded     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			slug       TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			reputation REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS skills (
			id              TEXT PRIMARY KEY,
			source          TEXT NOT NULL,
			author          TEXT NOT NULL,
			name            TEXT NOT NULL,
			human_name      TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			repo_url        TEXT NOT NULL UNIQUE,
			default_branch  TEXT NOT NULL DEFAULT '',
			categories      TEXT NOT NULL DEFAULT '',
			technologies    TEXT NOT NULL DEFAULT '',
			trust_tier      TEXT NOT NULL,
			quality_score   REAL NOT NULL DEFAULT 0,
			installable     INTEGER NOT NULL DEFAULT 0,
			current_version TEXT NOT NULL DEFAULT '',
			char_budget     INTEGER NOT NULL DEFAULT 0,
			scan_status     TEXT NOT NULL DEFAULT 'pending',
			stars           INTEGER NOT NULL DEFAULT 0,
			forks           INTEGER NOT NULL DEFAULT 0,
			trigger_phrases TEXT NOT NULL DEFAULT '',
			output_patterns TEXT NOT NULL DEFAULT '',
			has_tests       INTEGER NOT NULL DEFAULT 0,
			has_examples    INTEGER NOT NULL DEFAULT 0,
			embedding       BLOB,
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS skills_fts USING fts5(
			id UNINDEXED, name, description, tags,
			content='', contentless_delete=1, contentless_unindexed=1
		)`,
		`CREATE TABLE IF NOT EXISTS blocklist (
			skill_id TEXT PRIMARY KEY,
			reason   TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS installed_skills (
			skill_id         TEXT PRIMARY KEY,
			version          TEXT NOT NULL DEFAULT '',
			path             TEXT NOT NULL DEFAULT '',
			installed_at     TIMESTAMP NOT NULL,
			activation_count INTEGER NOT NULL DEFAULT 0,
			last_activated   TIMESTAMP,
			char_budget      INTEGER NOT NULL DEFAULT 0,
			active           INTEGER NOT NULL DEFAULT 1,
			priority         TEXT NOT NULL DEFAULT '',
			priority_locked  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS co_install_edges (
			skill_a       TEXT NOT NULL,
			skill_b       TEXT NOT NULL,
			install_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (skill_a, skill_b)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_config (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			enabled      INTEGER NOT NULL DEFAULT 1,
			frequency    TEXT NOT NULL DEFAULT 'daily',
			last_sync_at TIMESTAMP,
			next_sync_at TIMESTAMP,
			last_error   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id           TEXT PRIMARY KEY,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			status       TEXT NOT NULL,
			added        INTEGER NOT NULL DEFAULT 0,
			updated      INTEGER NOT NULL DEFAULT 0,
			unchanged    INTEGER NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id               TEXT PRIMARY KEY,
			embedding        BLOB NOT NULL,
			skill_id         TEXT NOT NULL,
			skill_features   TEXT NOT NULL DEFAULT '',
			outcome_type     TEXT NOT NULL,
			reward           REAL NOT NULL,
			original_score   REAL NOT NULL DEFAULT 0,
			source           TEXT NOT NULL,
			importance       REAL NOT NULL DEFAULT 0,
			access_count     INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMP NOT NULL,
			last_accessed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_skill ON patterns(skill_id)`,
		`CREATE TABLE IF NOT EXISTS fisher_info (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			update_count  INTEGER NOT NULL DEFAULT 0,
			importance    BLOB NOT NULL,
			running_sum   BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS consolidation_history (
			id          TEXT PRIMARY KEY,
			ran_at      TIMESTAMP NOT NULL,
			processed   INTEGER NOT NULL,
			preserved   INTEGER NOT NULL,
			pruned      INTEGER NOT NULL,
			preservation_rate REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id       TEXT PRIMARY KEY,
			at       TIMESTAMP NOT NULL,
			event    TEXT NOT NULL,
			actor    TEXT NOT NULL,
			result   TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id       TEXT PRIMARY KEY,
			type     TEXT NOT NULL,
			skill_id TEXT NOT NULL,
			context  TEXT NOT NULL DEFAULT '',
			at       TIMESTAMP NOT NULL,
			reason   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_skill ON signals(skill_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", firstN(stmt, 40), err)
		}
	}

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO sync_config(id, enabled, frequency) VALUES (1, 1, 'daily')`,
	); err != nil {
		return fmt.Errorf("seed sync_config: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO fisher_info(id, update_count, importance, running_sum) VALUES (1, 0, ?, ?)`,
		zeroFisherBlob(s.dims), zeroFisherBlob(s.dims),
	); err != nil {
		return fmt.Errorf("seed fisher_info: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO meta(key, value) VALUES ('embedding_dims', ?)`,
		fmt.Sprintf("%d", s.dims),
	); err != nil {
		return fmt.Errorf("seed meta: %w", err)
	}

	return nil
}

func (s *Store) checkEmbeddingDims() error {
	var recorded string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'embedding_dims'`).Scan(&recorded)
	if err != nil {
		return fmt.Errorf("catalog: read embedding_dims meta: %w", err)
	}
	if recorded != fmt.Sprintf("%d", s.dims) {
		return fmt.Errorf("catalog: embedding dimension mismatch: db has %s, configured %d", recorded, s.dims)
	}
	return nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Dims returns the fixed embedding dimension this store was opened with.
func (s *Store) Dims() int { return s.dims }

// DB exposes the underlying handle for components that need bespoke
// queries (co-install graph, learning layer) beyond the typed
// repositories below. Callers must not create or drop tables.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// tableMissing reports whether err is sqlite's "no such table" error, the
// signal repositories use to satisfy the "pre-migration no-op" contract.
func tableMissing(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such table")
}
