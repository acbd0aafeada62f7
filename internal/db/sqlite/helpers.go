package sqlite

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// slowQueryThreshold marks a degraded (not failed) aggregate query.
const slowQueryThreshold = time.Second

// nullString converts a string to sql.NullString.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// warnIfDegraded logs when a windowed query brushes against its row cap
// or exceeds the wall-clock threshold. Both conditions mean degraded
// visibility, never failure.
func warnIfDegraded(query string, rowCount, cap int, elapsed time.Duration) {
	if cap > 0 && rowCount >= cap {
		log.Warn().
			Str("query", query).
			Int("rows", rowCount).
			Int("cap", cap).
			Msg("windowed query hit row cap, results truncated")
	}
	if elapsed > slowQueryThreshold {
		log.Warn().
			Str("query", query).
			Dur("elapsed", elapsed).
			Msg("windowed query exceeded time threshold")
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (*models.Session, error) {
	var sess models.Session
	if err := scanner.Scan(
		&sess.SessionID, &sess.StartedAt, &sess.StartedAtEpoch,
		&sess.EndedAt, &sess.EndedAtEpoch, &sess.Status, &sess.CWD, &sess.Metadata,
	); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanInvocation(scanner rowScanner) (*models.Invocation, error) {
	var inv models.Invocation
	if err := scanner.Scan(
		&inv.ID, &inv.SessionID, &inv.AgentName, &inv.Phase, &inv.Model,
		&inv.Prompt, &inv.TicketID, &inv.StartedAt, &inv.StartedAtEpoch,
		&inv.EndedAt, &inv.EndedAtEpoch, &inv.DurationSecs, &inv.Status,
		&inv.Error, &inv.TotalTokens, &inv.RawInput, &inv.RawOutput,
	); err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanInvocationRows(rows *sql.Rows) ([]*models.Invocation, error) {
	var invocations []*models.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

func scanToolUse(scanner rowScanner) (*models.ToolUse, error) {
	var tu models.ToolUse
	if err := scanner.Scan(
		&tu.ID, &tu.SessionID, &tu.AgentName, &tu.InvocationID, &tu.ToolName,
		&tu.SequenceNumber, &tu.ToolInput, &tu.ToolOutput, &tu.StartedAt,
		&tu.StartedAtEpoch, &tu.EndedAt, &tu.EndedAtEpoch, &tu.DurationSecs,
		&tu.Status, &tu.Error,
	); err != nil {
		return nil, err
	}
	return &tu, nil
}

func scanToolUseRows(rows *sql.Rows) ([]*models.ToolUse, error) {
	var uses []*models.ToolUse
	for rows.Next() {
		tu, err := scanToolUse(rows)
		if err != nil {
			return nil, err
		}
		uses = append(uses, tu)
	}
	return uses, rows.Err()
}

const sessionColumns = `session_id, started_at, started_at_epoch, ended_at, ended_at_epoch, status, cwd, metadata`

const invocationColumns = `id, session_id, agent_name, phase, model, prompt, ticket_id,
	started_at, started_at_epoch, ended_at, ended_at_epoch, duration_seconds,
	status, error, total_tokens, raw_input, raw_output`

const toolUseColumns = `id, session_id, agent_name, invocation_id, tool_name, sequence_number,
	tool_input, tool_output, started_at, started_at_epoch, ended_at, ended_at_epoch,
	duration_seconds, status, error`
