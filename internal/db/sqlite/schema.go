package sqlite

import (
	"context"
	"fmt"
)

// schema is created idempotently on every open. Short-lived hook
// processes race on startup, so CREATE IF NOT EXISTS is the contract.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id       TEXT PRIMARY KEY,
		started_at       TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		ended_at         TEXT,
		ended_at_epoch   INTEGER,
		status           TEXT NOT NULL DEFAULT 'active',
		cwd              TEXT,
		metadata         TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS agent_invocations (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id       TEXT NOT NULL,
		agent_name       TEXT NOT NULL,
		phase            TEXT NOT NULL DEFAULT 'unknown',
		model            TEXT,
		prompt           TEXT NOT NULL DEFAULT '',
		ticket_id        TEXT,
		started_at       TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		ended_at         TEXT,
		ended_at_epoch   INTEGER,
		duration_seconds REAL,
		status           TEXT NOT NULL DEFAULT 'started',
		error            TEXT,
		total_tokens     INTEGER,
		raw_input        TEXT,
		raw_output       TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS agent_tool_uses (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id       TEXT NOT NULL,
		agent_name       TEXT NOT NULL,
		invocation_id    INTEGER NOT NULL DEFAULT 0,
		tool_name        TEXT NOT NULL,
		sequence_number  INTEGER NOT NULL DEFAULT 0,
		tool_input       TEXT,
		tool_output      TEXT,
		started_at       TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		ended_at         TEXT,
		ended_at_epoch   INTEGER,
		duration_seconds REAL,
		status           TEXT NOT NULL DEFAULT 'started',
		error            TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invocations_session
		ON agent_invocations(session_id, agent_name)`,
	`CREATE INDEX IF NOT EXISTS idx_invocations_open
		ON agent_invocations(session_id, agent_name, started_at_epoch)
		WHERE ended_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_invocations_started
		ON agent_invocations(started_at_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_uses_session
		ON agent_tool_uses(session_id, agent_name, tool_name)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_uses_started
		ON agent_tool_uses(started_at_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started
		ON sessions(started_at_epoch)`,
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create schema: %w", err)
		}
	}
	return nil
}
