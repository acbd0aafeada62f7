package models

import (
	"database/sql"
)

// InvocationStatus represents the lifecycle status of an invocation.
type InvocationStatus string

const (
	InvocationStatusStarted   InvocationStatus = "started"
	InvocationStatusCompleted InvocationStatus = "completed"
	InvocationStatusError     InvocationStatus = "error"
)

// Phase is the workflow phase an agent belongs to, derived from its name
// via an exact-membership lookup table.
type Phase string

const (
	PhaseRequirements Phase = "requirements"
	PhasePlanning     Phase = "planning"
	PhaseDevelopment  Phase = "development"
	PhaseReview       Phase = "review"
	PhaseFinalization Phase = "finalization"
	PhaseUnknown      Phase = "unknown"
)

// UnknownAgentName is recorded when a Task begin event carries no
// subagent type. Aggregate per-session agent counts skip it.
const UnknownAgentName = "unknown"

// Invocation is one logical begin/end execution of a named agent within
// a session. An invocation with a NULL end time is still open; one that
// never receives an end stays permanently in the started state and is
// surfaced as orphaned.
type Invocation struct {
	ID             int64            `db:"id" json:"id"`
	SessionID      string           `db:"session_id" json:"session_id"`
	AgentName      string           `db:"agent_name" json:"agent_name"`
	Phase          Phase            `db:"phase" json:"phase"`
	Model          sql.NullString   `db:"model" json:"model,omitempty"`
	Prompt         string           `db:"prompt" json:"prompt"`
	TicketID       sql.NullString   `db:"ticket_id" json:"ticket_id,omitempty"`
	StartedAt      string           `db:"started_at" json:"started_at"`
	StartedAtEpoch int64            `db:"started_at_epoch" json:"started_at_epoch"`
	EndedAt        sql.NullString   `db:"ended_at" json:"ended_at,omitempty"`
	EndedAtEpoch   sql.NullInt64    `db:"ended_at_epoch" json:"ended_at_epoch,omitempty"`
	DurationSecs   sql.NullFloat64  `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Status         InvocationStatus `db:"status" json:"status"`
	Error          sql.NullString   `db:"error" json:"error,omitempty"`
	TotalTokens    sql.NullInt64    `db:"total_tokens" json:"total_tokens,omitempty"`
	RawInput       sql.NullString   `db:"raw_input" json:"raw_input,omitempty"`
	RawOutput      sql.NullString   `db:"raw_output" json:"raw_output,omitempty"`
}

// Open reports whether the invocation is still awaiting its end event.
func (i *Invocation) Open() bool {
	return !i.EndedAt.Valid
}
