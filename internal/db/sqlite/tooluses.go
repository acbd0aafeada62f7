package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// ToolUseStore provides tool-use database operations.
type ToolUseStore struct {
	store *Store
}

// NewToolUseStore creates a new tool-use store.
func NewToolUseStore(store *Store) *ToolUseStore {
	return &ToolUseStore{store: store}
}

// InsertBegin records a tool-use start attributed to the given
// invocation (or the direct sentinel) with its sequence number.
func (s *ToolUseStore) InsertBegin(ctx context.Context, tu *models.ToolUse) (int64, error) {
	const query = `
		INSERT INTO agent_tool_uses
		(session_id, agent_name, invocation_id, tool_name, sequence_number, tool_input, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'started')
	`
	result, err := s.store.ExecContext(ctx, query,
		tu.SessionID, tu.AgentName, tu.InvocationID, tu.ToolName, tu.SequenceNumber,
		tu.ToolInput, tu.StartedAt, tu.StartedAtEpoch,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert tool use: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: tool use id: %w", err)
	}
	return id, nil
}

// CloseMostRecent completes the most recent open tool use for
// (session, agent, tool). Returns false when nothing was open, which
// callers log as a warning and otherwise ignore.
func (s *ToolUseStore) CloseMostRecent(ctx context.Context, sessionID, agentName, toolName string,
	endedAt time.Time, status, errMsg, output string) (bool, error) {

	const findQuery = `
		SELECT id, started_at FROM agent_tool_uses
		WHERE session_id = ? AND agent_name = ? AND tool_name = ? AND ended_at IS NULL
		ORDER BY started_at_epoch DESC, id DESC
		LIMIT 1
	`
	var id int64
	var startedAt string
	err := s.store.QueryRowContext(ctx, findQuery, sessionID, agentName, toolName).Scan(&id, &startedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: find open tool use: %w", err)
	}

	var duration sql.NullFloat64
	if start, perr := time.Parse(time.RFC3339Nano, startedAt); perr == nil {
		duration = sql.NullFloat64{Float64: endedAt.Sub(start).Seconds(), Valid: true}
	}

	const updateQuery = `
		UPDATE agent_tool_uses
		SET ended_at = ?, ended_at_epoch = ?, duration_seconds = ?, status = ?, error = ?, tool_output = ?
		WHERE id = ? AND ended_at IS NULL
	`
	if _, err := s.store.ExecContext(ctx, updateQuery,
		endedAt.Format(time.RFC3339Nano), endedAt.UnixMilli(), duration,
		status, nullString(errMsg), nullString(output), id,
	); err != nil {
		return false, fmt.Errorf("sqlite: close tool use: %w", err)
	}
	return true, nil
}

// BySession returns a session's tool uses in start order.
func (s *ToolUseStore) BySession(ctx context.Context, sessionID string, limit int) ([]*models.ToolUse, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + toolUseColumns + `
		FROM agent_tool_uses WHERE session_id = ?
		ORDER BY started_at_epoch ASC, id ASC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tool uses by session: %w", err)
	}
	defer rows.Close()
	return scanToolUseRows(rows)
}

// InWindow returns tool uses started within the trailing window,
// bounded by cap, with degraded-visibility logging.
func (s *ToolUseStore) InWindow(ctx context.Context, window time.Duration, cap int) ([]*models.ToolUse, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	query := `SELECT ` + toolUseColumns + `
		FROM agent_tool_uses
		WHERE started_at_epoch >= ?
		ORDER BY started_at_epoch ASC, id ASC LIMIT ?`

	started := time.Now()
	rows, err := s.store.QueryContext(ctx, query, cutoff, cap)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tool uses in window: %w", err)
	}
	defer rows.Close()

	uses, err := scanToolUseRows(rows)
	if err != nil {
		return nil, err
	}
	warnIfDegraded("tool_uses_in_window", len(uses), cap, time.Since(started))
	return uses, nil
}

// MaxID returns the highest assigned tool use id, or zero when the
// table is empty.
func (s *ToolUseStore) MaxID(ctx context.Context) (int64, error) {
	var id int64
	err := s.store.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM agent_tool_uses`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: max tool use id: %w", err)
	}
	return id, nil
}

// After returns tool uses with id greater than afterID in insertion
// order, for the tail feed.
func (s *ToolUseStore) After(ctx context.Context, afterID int64, limit int) ([]*models.ToolUse, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + toolUseColumns + `
		FROM agent_tool_uses WHERE id > ?
		ORDER BY id ASC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tool uses after: %w", err)
	}
	defer rows.Close()
	return scanToolUseRows(rows)
}
