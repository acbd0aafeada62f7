package correlate

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/internal/agentctx"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/internal/privacy"
	"github.com/agentwatch/agentwatch/pkg/hookevent"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// ticketPattern matches issue-tracker keys like PROJ-123.
var ticketPattern = regexp.MustCompile(`\b[A-Z]+-\d+\b`)

// Engine turns parsed hook events into store mutations. It is the only
// writer of invocation and tool-use rows; each hook binary constructs
// one, handles one event, and exits.
type Engine struct {
	sessions    *sqlite.SessionStore
	invocations *sqlite.InvocationStore
	toolUses    *sqlite.ToolUseStore
	hints       *Hints
	tracker     *agentctx.Tracker

	promptMaxBytes int
	now            func() time.Time
}

// NewEngine wires an engine over the given store and session-state directory.
func NewEngine(store *sqlite.Store, stateDir string, promptMaxBytes int, hintRetention time.Duration) *Engine {
	return &Engine{
		sessions:       sqlite.NewSessionStore(store),
		invocations:    sqlite.NewInvocationStore(store),
		toolUses:       sqlite.NewToolUseStore(store),
		hints:          NewHints(stateDir, hintRetention),
		tracker:        agentctx.NewTracker(stateDir),
		promptMaxBytes: promptMaxBytes,
		now:            time.Now,
	}
}

// Hints exposes the hint index for opportunistic cleanup by hook mains.
func (e *Engine) Hints() *Hints { return e.hints }

// Tracker exposes the context tracker for opportunistic cleanup.
func (e *Engine) Tracker() *agentctx.Tracker { return e.tracker }

// Handle dispatches one event. Errors are reported to the caller but
// never abort the producing process; the hook runner logs and continues.
func (e *Engine) Handle(ctx context.Context, ev hookevent.Event) error {
	switch ev := ev.(type) {
	case *hookevent.SessionStart:
		return e.sessionStart(ctx, ev)
	case *hookevent.SessionEnd:
		return e.sessionEnd(ctx, ev)
	case *hookevent.InvocationBegin:
		return e.invocationBegin(ctx, ev)
	case *hookevent.InvocationEnd:
		return e.invocationEnd(ctx, ev)
	case *hookevent.ToolBegin:
		return e.toolBegin(ctx, ev)
	case *hookevent.ToolEnd:
		return e.toolEnd(ctx, ev)
	case *hookevent.Unknown:
		log.Debug().Str("session", ev.SessionID).Str("hook", ev.HookEventName).Msg("ignoring unrecognized hook event")
		return nil
	default:
		return nil
	}
}

func (e *Engine) sessionStart(ctx context.Context, ev *hookevent.SessionStart) error {
	metadata := ""
	if len(ev.Raw) > 0 {
		metadata = string(ev.Raw)
	}
	return e.sessions.RecordStart(ctx, ev.SessionID, ev.CWD, metadata, e.now())
}

func (e *Engine) sessionEnd(ctx context.Context, ev *hookevent.SessionEnd) error {
	return e.sessions.RecordEnd(ctx, ev.SessionID, e.now())
}

func (e *Engine) invocationBegin(ctx context.Context, ev *hookevent.InvocationBegin) error {
	now := e.now()
	if err := e.sessions.Ensure(ctx, ev.SessionID, now); err != nil {
		return err
	}

	prompt := privacy.Clean(ev.Prompt)
	if e.promptMaxBytes > 0 && len(prompt) > e.promptMaxBytes {
		prompt = prompt[:e.promptMaxBytes]
	}

	inv := &models.Invocation{
		SessionID:      ev.SessionID,
		AgentName:      ev.AgentName,
		Phase:          ClassifyAgent(ev.AgentName),
		Prompt:         prompt,
		TicketID:       extractTicketID(ev.Prompt),
		StartedAt:      now.Format(time.RFC3339Nano),
		StartedAtEpoch: now.UnixMilli(),
		RawInput:       rawNull(ev.ToolInput),
	}
	id, err := e.invocations.Insert(ctx, inv)
	if err != nil {
		return err
	}

	if err := e.hints.Put(ev.SessionID, ev.AgentName, now, id); err != nil {
		log.Warn().Str("session", ev.SessionID).Str("agent", ev.AgentName).Err(err).
			Msg("hint write failed, end will resolve via store fallback")
	}
	if err := e.tracker.Push(ev.SessionID, ev.AgentName, id); err != nil {
		log.Warn().Str("session", ev.SessionID).Str("agent", ev.AgentName).Err(err).
			Msg("context push failed")
	}

	log.Debug().Str("session", ev.SessionID).Str("agent", ev.AgentName).Int64("id", id).
		Str("phase", string(inv.Phase)).Msg("invocation started")
	return nil
}

func (e *Engine) invocationEnd(ctx context.Context, ev *hookevent.InvocationEnd) error {
	now := e.now()

	id, resolved := e.hints.Take(ev.SessionID, ev.AgentName)
	var inv *models.Invocation
	var err error
	if resolved {
		inv, err = e.invocations.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if inv != nil && !inv.Open() {
			// Hint raced a concurrent close; fall through to the store scan.
			inv = nil
		}
	}
	if inv == nil {
		inv, err = e.invocations.FindOpen(ctx, ev.SessionID, ev.AgentName)
		if err != nil {
			return err
		}
	}
	if inv == nil {
		log.Warn().Str("session", ev.SessionID).Str("agent", ev.AgentName).
			Msg("end event without matching begin, discarding")
		return nil
	}

	duration := sql.NullFloat64{}
	if secs, ok := ev.DurationSeconds(); ok {
		duration = sql.NullFloat64{Float64: secs, Valid: true}
	} else if start, perr := time.Parse(time.RFC3339Nano, inv.StartedAt); perr == nil {
		duration = sql.NullFloat64{Float64: now.Sub(start).Seconds(), Valid: true}
	}

	status := models.InvocationStatusCompleted
	if ev.Failed() {
		status = models.InvocationStatusError
	}

	tokens := sql.NullInt64{}
	if n, ok := ev.TotalTokens(); ok {
		tokens = sql.NullInt64{Int64: n, Valid: true}
	}

	rawOutput := ""
	if len(ev.ToolResponse) > 0 {
		rawOutput = string(ev.ToolResponse)
	}

	if err := e.invocations.Complete(ctx, inv.ID, now, duration, status,
		ev.ServiceTier(), tokens, ev.ToolError, rawOutput); err != nil {
		return err
	}

	if err := e.tracker.Pop(ev.SessionID, ev.AgentName); err != nil {
		log.Warn().Str("session", ev.SessionID).Str("agent", ev.AgentName).Err(err).
			Msg("context pop failed")
	}

	log.Debug().Str("session", ev.SessionID).Str("agent", ev.AgentName).Int64("id", inv.ID).
		Str("status", string(status)).Msg("invocation completed")
	return nil
}

func (e *Engine) toolBegin(ctx context.Context, ev *hookevent.ToolBegin) error {
	now := e.now()
	if err := e.sessions.Ensure(ctx, ev.SessionID, now); err != nil {
		return err
	}

	agentName, invocationID, seq, err := e.tracker.NextSequence(ev.SessionID)
	if err != nil {
		log.Warn().Str("session", ev.SessionID).Err(err).Msg("sequence state write failed")
	}

	tu := &models.ToolUse{
		SessionID:      ev.SessionID,
		AgentName:      agentName,
		InvocationID:   invocationID,
		ToolName:       ev.ToolName,
		SequenceNumber: seq,
		ToolInput:      rawNull(ev.ToolInput),
		StartedAt:      now.Format(time.RFC3339Nano),
		StartedAtEpoch: now.UnixMilli(),
	}
	_, err = e.toolUses.InsertBegin(ctx, tu)
	return err
}

func (e *Engine) toolEnd(ctx context.Context, ev *hookevent.ToolEnd) error {
	now := e.now()

	agentName, _ := e.tracker.Current(ev.SessionID)

	status := "completed"
	if ev.ToolError != "" {
		status = "error"
	}
	output := ""
	if len(ev.ToolResponse) > 0 {
		output = string(ev.ToolResponse)
	}

	closed, err := e.toolUses.CloseMostRecent(ctx, ev.SessionID, agentName, ev.ToolName,
		now, status, ev.ToolError, output)
	if err != nil {
		return err
	}
	if !closed {
		log.Warn().Str("session", ev.SessionID).Str("agent", agentName).Str("tool", ev.ToolName).
			Msg("tool end without open tool use")
	}
	return nil
}

// extractTicketID pulls the first issue key out of a prompt that talks
// about a ticket. Prompts that merely happen to contain an ALL-CAPS
// token with a dash don't count.
func extractTicketID(prompt string) sql.NullString {
	if !strings.Contains(strings.ToLower(prompt), "ticket") {
		return sql.NullString{}
	}
	match := ticketPattern.FindString(prompt)
	if match == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: match, Valid: true}
}

func rawNull(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
