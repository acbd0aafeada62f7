// Package models contains domain models for agentwatch.
package models

import (
	"database/sql"
	"time"
)

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// Session is the top-level unit of work. It is created on the first
// session-start event for an externally assigned id and never deleted.
type Session struct {
	SessionID      string         `db:"session_id" json:"session_id"`
	StartedAt      string         `db:"started_at" json:"started_at"`
	StartedAtEpoch int64          `db:"started_at_epoch" json:"started_at_epoch"`
	EndedAt        sql.NullString `db:"ended_at" json:"ended_at,omitempty"`
	EndedAtEpoch   sql.NullInt64  `db:"ended_at_epoch" json:"ended_at_epoch,omitempty"`
	Status         SessionStatus  `db:"status" json:"status"`
	CWD            sql.NullString `db:"cwd" json:"cwd,omitempty"`
	Metadata       sql.NullString `db:"metadata" json:"metadata,omitempty"`
}

// Duration returns the session wall-clock duration, or false while the
// session is still open or either timestamp fails to parse.
func (s *Session) Duration() (time.Duration, bool) {
	if !s.EndedAt.Valid {
		return 0, false
	}
	start, err := time.Parse(time.RFC3339Nano, s.StartedAt)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339Nano, s.EndedAt.String)
	if err != nil {
		return 0, false
	}
	return end.Sub(start), true
}
