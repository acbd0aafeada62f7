package models

import (
	"database/sql"
)

// DirectAgentName is the sentinel agent for tool uses recorded while no
// invocation is active. Such activity is attributed to invocation id 0
// so it is never silently lost.
const DirectAgentName = "direct"

// ToolUse is a sub-operation performed while some invocation was the
// current context. Sequence numbers are 1-based and monotonic within
// the owning invocation.
type ToolUse struct {
	ID             int64           `db:"id" json:"id"`
	SessionID      string          `db:"session_id" json:"session_id"`
	AgentName      string          `db:"agent_name" json:"agent_name"`
	InvocationID   int64           `db:"invocation_id" json:"invocation_id"`
	ToolName       string          `db:"tool_name" json:"tool_name"`
	SequenceNumber int64           `db:"sequence_number" json:"sequence_number"`
	ToolInput      sql.NullString  `db:"tool_input" json:"tool_input,omitempty"`
	ToolOutput     sql.NullString  `db:"tool_output" json:"tool_output,omitempty"`
	StartedAt      string          `db:"started_at" json:"started_at"`
	StartedAtEpoch int64           `db:"started_at_epoch" json:"started_at_epoch"`
	EndedAt        sql.NullString  `db:"ended_at" json:"ended_at,omitempty"`
	EndedAtEpoch   sql.NullInt64   `db:"ended_at_epoch" json:"ended_at_epoch,omitempty"`
	DurationSecs   sql.NullFloat64 `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Status         string          `db:"status" json:"status"`
	Error          sql.NullString  `db:"error" json:"error,omitempty"`
}
