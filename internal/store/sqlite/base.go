// Package sqlite provides the SQL repository implementation. The same code runs on
// mattn/go-sqlite3 and on pgx; placeholders are rebound per driver by sqlx.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/agentgate/internal/store"
)

// Repository provides SQL-backed storage for every engine record.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool for sqlite, same pool for postgres)
	ownsDB bool
}

var _ store.Store = (*Repository)(nil)

// NewWithDB creates a repository on existing connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

// NewOwned creates a repository that closes its connections on Close.
func NewOwned(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, true)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	if reader == nil {
		reader = writer
	}
	repo := &Repository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := repo.closeAll(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connections when the repository owns them.
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.closeAll()
}

func (r *Repository) closeAll() error {
	err := r.db.Close()
	if r.ro != r.db {
		if rErr := r.ro.Close(); rErr != nil && err == nil {
			err = rErr
		}
	}
	return err
}

// DB returns the underlying writer connection.
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

func (r *Repository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			agent_id TEXT,
			working_dir TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY,
			default_provider TEXT NOT NULL DEFAULT '',
			default_model TEXT NOT NULL DEFAULT '',
			fallback_model TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			max_budget_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			summary_limit INTEGER NOT NULL DEFAULT 3
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_id TEXT,
			parent_session_id TEXT,
			forked INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			process_handle TEXT NOT NULL DEFAULT '',
			external_session_id TEXT NOT NULL DEFAULT '',
			working_dir TEXT NOT NULL DEFAULT '',
			permission_mode TEXT NOT NULL DEFAULT 'default',
			hook_mode INTEGER NOT NULL DEFAULT 1,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			ended_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_task_id ON sessions(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON sessions(agent_id)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			input TEXT NOT NULL DEFAULT '{}',
			call_id TEXT NOT NULL DEFAULT '',
			risk TEXT NOT NULL,
			reasons TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			timeout_at TIMESTAMP NOT NULL,
			default_on_timeout TEXT NOT NULL,
			decided_by TEXT NOT NULL DEFAULT '',
			decided_at TIMESTAMP,
			decision_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_session_status ON approvals(session_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status_created ON approvals(status, created_at)`,
		// At most one pending approval per (session, call id).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_pending_call
			ON approvals(session_id, call_id) WHERE status = 'pending' AND call_id <> ''`,
		`CREATE TABLE IF NOT EXISTS diffs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			approval_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL,
			old_content TEXT,
			new_content TEXT,
			full_text TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diffs_status ON diffs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_diffs_session_id ON diffs(session_id)`,
		`CREATE TABLE IF NOT EXISTS hooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			scope TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			transport TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			filter TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 0,
			blocking INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			timeout_seconds INTEGER NOT NULL DEFAULT 30,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hooks_event_type ON hooks(event_type)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return r.runMigrations()
}

// runMigrations applies idempotent ALTER TABLE migrations for schema evolution.
func (r *Repository) runMigrations() error {
	// Older databases predate session summaries (ignore error if the column exists).
	_, _ = r.db.Exec(`ALTER TABLE sessions ADD COLUMN summary TEXT NOT NULL DEFAULT ''`)
	return nil
}
