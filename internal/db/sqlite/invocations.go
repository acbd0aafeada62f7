package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// InvocationStore provides agent invocation database operations.
type InvocationStore struct {
	store *Store
}

// NewInvocationStore creates a new invocation store.
func NewInvocationStore(store *Store) *InvocationStore {
	return &InvocationStore{store: store}
}

// Insert records a new invocation in the started state and returns its
// store-assigned id.
func (s *InvocationStore) Insert(ctx context.Context, inv *models.Invocation) (int64, error) {
	const query = `
		INSERT INTO agent_invocations
		(session_id, agent_name, phase, prompt, ticket_id, started_at, started_at_epoch, status, raw_input)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.store.ExecContext(ctx, query,
		inv.SessionID, inv.AgentName, string(inv.Phase), inv.Prompt, inv.TicketID,
		inv.StartedAt, inv.StartedAtEpoch, string(models.InvocationStatusStarted), inv.RawInput,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert invocation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: invocation id: %w", err)
	}
	return id, nil
}

// FindOpen returns the most recently opened still-open invocation for
// (session, agent), or nil when none is open. Ordering by start time
// descending yields the LIFO resolution the nesting discipline expects.
func (s *InvocationStore) FindOpen(ctx context.Context, sessionID, agentName string) (*models.Invocation, error) {
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations
		WHERE session_id = ? AND agent_name = ? AND ended_at IS NULL
		ORDER BY started_at_epoch DESC, id DESC
		LIMIT 1`
	inv, err := scanInvocation(s.store.QueryRowContext(ctx, query, sessionID, agentName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find open invocation: %w", err)
	}
	return inv, nil
}

// GetByID retrieves an invocation by id, or nil when absent.
func (s *InvocationStore) GetByID(ctx context.Context, id int64) (*models.Invocation, error) {
	query := `SELECT ` + invocationColumns + ` FROM agent_invocations WHERE id = ? LIMIT 1`
	inv, err := scanInvocation(s.store.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get invocation: %w", err)
	}
	return inv, nil
}

// Complete transitions an invocation to its terminal state. The update
// is a no-op for ids that were already closed by a concurrent handler.
func (s *InvocationStore) Complete(ctx context.Context, id int64, endedAt time.Time,
	duration sql.NullFloat64, status models.InvocationStatus, model string,
	tokens sql.NullInt64, errMsg, rawOutput string) error {

	const query = `
		UPDATE agent_invocations
		SET ended_at = ?, ended_at_epoch = ?, duration_seconds = ?, status = ?,
		    model = ?, total_tokens = ?, error = ?, raw_output = ?
		WHERE id = ? AND ended_at IS NULL
	`
	if _, err := s.store.ExecContext(ctx, query,
		endedAt.Format(time.RFC3339Nano), endedAt.UnixMilli(), duration, string(status),
		nullString(model), tokens, nullString(errMsg), nullString(rawOutput), id,
	); err != nil {
		return fmt.Errorf("sqlite: complete invocation: %w", err)
	}
	return nil
}

// BySession returns a session's invocations in start order.
func (s *InvocationStore) BySession(ctx context.Context, sessionID string, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations WHERE session_id = ?
		ORDER BY started_at_epoch ASC, id ASC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: invocations by session: %w", err)
	}
	defer rows.Close()
	return scanInvocationRows(rows)
}

// InWindow returns invocations started within the trailing window in
// start order, bounded by cap. Truncation and slow execution are logged
// as degraded visibility, never treated as failure.
func (s *InvocationStore) InWindow(ctx context.Context, window time.Duration, cap int) ([]*models.Invocation, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations
		WHERE started_at_epoch >= ?
		ORDER BY started_at_epoch ASC, id ASC LIMIT ?`

	started := time.Now()
	rows, err := s.store.QueryContext(ctx, query, cutoff, cap)
	if err != nil {
		return nil, fmt.Errorf("sqlite: invocations in window: %w", err)
	}
	defer rows.Close()

	invocations, err := scanInvocationRows(rows)
	if err != nil {
		return nil, err
	}
	warnIfDegraded("invocations_in_window", len(invocations), cap, time.Since(started))
	return invocations, nil
}

// CountOpen returns the number of invocations still awaiting an end.
func (s *InvocationStore) CountOpen(ctx context.Context) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM agent_invocations
		WHERE ended_at IS NULL AND agent_name != 'unknown'
	`
	var count int64
	if err := s.store.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count open invocations: %w", err)
	}
	return count, nil
}

// PromptsByAgent returns the most recent prompts recorded for an agent.
func (s *InvocationStore) PromptsByAgent(ctx context.Context, agentName string, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations WHERE agent_name = ?
		ORDER BY started_at_epoch DESC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, agentName, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: prompts by agent: %w", err)
	}
	defer rows.Close()
	return scanInvocationRows(rows)
}

// searchFields enumerates the columns open to free-text search.
var searchFields = map[string]bool{
	"prompt":     true,
	"agent_name": true,
	"error":      true,
}

// Search performs a LIKE match over one of the searchable columns.
func (s *InvocationStore) Search(ctx context.Context, field, term string, limit int) ([]*models.Invocation, error) {
	if !searchFields[field] {
		return nil, fmt.Errorf("sqlite: search field %q not supported", field)
	}
	if limit <= 0 {
		limit = 20
	}
	// field is validated against the allow-list above.
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations WHERE ` + field + ` LIKE ?
		ORDER BY started_at_epoch DESC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, "%"+term+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search invocations: %w", err)
	}
	defer rows.Close()
	return scanInvocationRows(rows)
}

// After returns invocations with id greater than afterID in insertion
// order. This is the non-destructive tail-feed cursor query.
func (s *InvocationStore) After(ctx context.Context, afterID int64, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations WHERE id > ?
		ORDER BY id ASC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: invocations after: %w", err)
	}
	defer rows.Close()
	return scanInvocationRows(rows)
}

// MaxID returns the highest assigned invocation id, or zero when the
// table is empty. Tail consumers start from here.
func (s *InvocationStore) MaxID(ctx context.Context) (int64, error) {
	var id int64
	err := s.store.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM agent_invocations`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: max invocation id: %w", err)
	}
	return id, nil
}

// Export returns invocations for the export surface, optionally scoped
// to one session, newest first when unscoped.
func (s *InvocationStore) Export(ctx context.Context, sessionID string, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = 1000
	}
	if sessionID != "" {
		return s.BySession(ctx, sessionID, limit)
	}
	query := `SELECT ` + invocationColumns + `
		FROM agent_invocations ORDER BY started_at_epoch DESC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: export invocations: %w", err)
	}
	defer rows.Close()
	return scanInvocationRows(rows)
}
