package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// SessionStore provides session-related database operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// RecordStart records a session-start event. The insert is idempotent:
// a retried or duplicate start keeps the original start time but
// refreshes cwd/metadata and reactivates the session.
func (s *SessionStore) RecordStart(ctx context.Context, sessionID, cwd, metadata string, at time.Time) error {
	const insertQuery = `
		INSERT OR IGNORE INTO sessions (session_id, started_at, started_at_epoch, status, cwd, metadata)
		VALUES (?, ?, ?, 'active', ?, ?)
	`
	result, err := s.store.ExecContext(ctx, insertQuery,
		sessionID, at.Format(time.RFC3339Nano), at.UnixMilli(),
		nullString(cwd), nullString(metadata),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record session start: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		const updateQuery = `
			UPDATE sessions SET status = 'active', cwd = ?, metadata = ?
			WHERE session_id = ?
		`
		if _, err := s.store.ExecContext(ctx, updateQuery, nullString(cwd), nullString(metadata), sessionID); err != nil {
			return fmt.Errorf("sqlite: refresh session: %w", err)
		}
	}
	return nil
}

// RecordEnd marks a session completed. Unknown session ids are ignored.
func (s *SessionStore) RecordEnd(ctx context.Context, sessionID string, at time.Time) error {
	const query = `
		UPDATE sessions SET ended_at = ?, ended_at_epoch = ?, status = 'completed'
		WHERE session_id = ?
	`
	if _, err := s.store.ExecContext(ctx, query,
		at.Format(time.RFC3339Nano), at.UnixMilli(), sessionID,
	); err != nil {
		return fmt.Errorf("sqlite: record session end: %w", err)
	}
	return nil
}

// Ensure creates a session row when an invocation or tool event arrives
// before (or without) its session-start notification.
func (s *SessionStore) Ensure(ctx context.Context, sessionID string, at time.Time) error {
	const query = `
		INSERT OR IGNORE INTO sessions (session_id, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, 'active')
	`
	if _, err := s.store.ExecContext(ctx, query,
		sessionID, at.Format(time.RFC3339Nano), at.UnixMilli(),
	); err != nil {
		return fmt.Errorf("sqlite: ensure session: %w", err)
	}
	return nil
}

// Get retrieves a session by id, or nil when absent.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ? LIMIT 1`
	sess, err := scanSession(s.store.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session: %w", err)
	}
	return sess, nil
}

// Recent returns the most recently started sessions, newest first.
func (s *SessionStore) Recent(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at_epoch DESC LIMIT ?`
	rows, err := s.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// InWindow returns sessions started within the trailing window, newest
// first, bounded by cap. Truncation and slow execution are logged as
// degraded visibility.
func (s *SessionStore) InWindow(ctx context.Context, window time.Duration, cap int) ([]*models.Session, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	query := `SELECT ` + sessionColumns + `
		FROM sessions WHERE started_at_epoch >= ?
		ORDER BY started_at_epoch DESC LIMIT ?`

	started := time.Now()
	rows, err := s.store.QueryContext(ctx, query, cutoff, cap)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sessions in window: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	warnIfDegraded("sessions_in_window", len(sessions), cap, time.Since(started))
	return sessions, nil
}

// CountActive returns the number of sessions without an end time.
func (s *SessionStore) CountActive(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL OR status = 'active'`
	var count int64
	if err := s.store.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count active sessions: %w", err)
	}
	return count, nil
}

// CountTotal returns the total number of sessions recorded.
func (s *SessionStore) CountTotal(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM sessions`
	var count int64
	if err := s.store.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count sessions: %w", err)
	}
	return count, nil
}

// Latest returns the most recently started session id, or "" when the
// store is empty.
func (s *SessionStore) Latest(ctx context.Context) (string, error) {
	const query = `SELECT session_id FROM sessions ORDER BY started_at_epoch DESC LIMIT 1`
	var id string
	err := s.store.QueryRowContext(ctx, query).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: latest session: %w", err)
	}
	return id, nil
}
