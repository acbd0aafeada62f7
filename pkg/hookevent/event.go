// Package hookevent parses inbound hook notifications into a closed set
// of event kinds so downstream handling is exhaustive rather than
// dictionary-driven.
package hookevent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Hook event names as delivered on the command line / settings registration.
const (
	NameSessionStart = "SessionStart"
	NameStop         = "Stop"
	NamePreToolUse   = "PreToolUse"
	NamePostToolUse  = "PostToolUse"
)

// taskToolName is the tool whose begin/end frames delimit an agent invocation.
const taskToolName = "Task"

// Base carries the fields shared by every hook payload.
type Base struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	TranscriptPath string `json:"transcript_path"`
}

// Event is the tagged union over the known notification kinds.
// The only implementations live in this package.
type Event interface {
	Session() string
	event()
}

// SessionStart marks the beginning of a session.
type SessionStart struct {
	Base
	Raw []byte
}

// SessionEnd marks the end of a session.
type SessionEnd struct {
	Base
}

// InvocationBegin is a Task tool begin frame: a named agent starts.
type InvocationBegin struct {
	Base
	AgentName string
	Prompt    string
	ToolInput json.RawMessage
}

// InvocationEnd is a Task tool end frame for the same (session, agent).
// It carries no identifier beyond the pair itself.
type InvocationEnd struct {
	Base
	AgentName    string
	ToolInput    json.RawMessage
	ToolResponse json.RawMessage
	ToolError    string
}

// ToolBegin is any non-Task tool starting while some invocation may be current.
type ToolBegin struct {
	Base
	ToolName  string
	ToolInput json.RawMessage
}

// ToolEnd closes the most recent open tool use for (session, agent, tool).
type ToolEnd struct {
	Base
	ToolName     string
	ToolResponse json.RawMessage
	ToolError    string
}

// Unknown preserves payloads for hook events this version does not understand.
type Unknown struct {
	Base
	Raw []byte
}

func (e *SessionStart) Session() string    { return e.SessionID }
func (e *SessionEnd) Session() string      { return e.SessionID }
func (e *InvocationBegin) Session() string { return e.SessionID }
func (e *InvocationEnd) Session() string   { return e.SessionID }
func (e *ToolBegin) Session() string       { return e.SessionID }
func (e *ToolEnd) Session() string         { return e.SessionID }
func (e *Unknown) Session() string         { return e.SessionID }

func (*SessionStart) event()    {}
func (*SessionEnd) event()      {}
func (*InvocationBegin) event() {}
func (*InvocationEnd) event()   {}
func (*ToolBegin) event()       {}
func (*ToolEnd) event()         {}
func (*Unknown) event()         {}

// rawPayload is the superset wire shape. Fields absent for a given hook
// simply stay zero; missing session ids default to "unknown" because
// recording some event beats dropping it.
type rawPayload struct {
	Base
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response"`
	ToolError    string          `json:"tool_error"`
}

// taskInput is the Task tool input shape carrying agent identity.
type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Prompt       string `json:"prompt"`
}

// Parse decodes raw hook JSON delivered for the named hook event into
// one of the Event variants. A decode failure returns a *ParseError
// with positional diagnostics; callers must treat it as non-fatal.
func Parse(hookName string, data []byte) (Event, error) {
	var p rawPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, describeError(err, data)
	}
	if p.SessionID == "" {
		p.SessionID = "unknown"
	}

	switch hookName {
	case NameSessionStart:
		return &SessionStart{Base: p.Base, Raw: data}, nil
	case NameStop:
		return &SessionEnd{Base: p.Base}, nil
	case NamePreToolUse:
		if p.ToolName == taskToolName {
			var ti taskInput
			_ = json.Unmarshal(p.ToolInput, &ti)
			if ti.SubagentType == "" {
				ti.SubagentType = "unknown"
			}
			return &InvocationBegin{
				Base:      p.Base,
				AgentName: ti.SubagentType,
				Prompt:    ti.Prompt,
				ToolInput: p.ToolInput,
			}, nil
		}
		return &ToolBegin{Base: p.Base, ToolName: p.ToolName, ToolInput: p.ToolInput}, nil
	case NamePostToolUse:
		if p.ToolName == taskToolName {
			var ti taskInput
			_ = json.Unmarshal(p.ToolInput, &ti)
			if ti.SubagentType == "" {
				ti.SubagentType = "unknown"
			}
			return &InvocationEnd{
				Base:         p.Base,
				AgentName:    ti.SubagentType,
				ToolInput:    p.ToolInput,
				ToolResponse: p.ToolResponse,
				ToolError:    p.ToolError,
			}, nil
		}
		return &ToolEnd{Base: p.Base, ToolName: p.ToolName, ToolResponse: p.ToolResponse, ToolError: p.ToolError}, nil
	default:
		return &Unknown{Base: p.Base, Raw: data}, nil
	}
}

// responseStats is the subset of the Task tool response used for metrics.
type responseStats struct {
	DurationMS      float64 `json:"duration_ms"`
	TotalDurationMS float64 `json:"totalDurationMs"`
	TotalTokens     int64   `json:"totalTokens"`
	IsError         bool    `json:"is_error"`
	Usage           struct {
		ServiceTier string `json:"service_tier"`
	} `json:"usage"`
}

// DurationSeconds returns the explicitly reported duration from the end
// payload, preferring duration_ms over totalDurationMs, or false when
// neither is present.
func (e *InvocationEnd) DurationSeconds() (float64, bool) {
	var rs responseStats
	if err := json.Unmarshal(e.ToolResponse, &rs); err != nil {
		return 0, false
	}
	if rs.DurationMS > 0 {
		return rs.DurationMS / 1000.0, true
	}
	if rs.TotalDurationMS > 0 {
		return rs.TotalDurationMS / 1000.0, true
	}
	return 0, false
}

// TotalTokens returns the token count reported in the end payload, if any.
func (e *InvocationEnd) TotalTokens() (int64, bool) {
	var rs responseStats
	if err := json.Unmarshal(e.ToolResponse, &rs); err != nil || rs.TotalTokens == 0 {
		return 0, false
	}
	return rs.TotalTokens, true
}

// ServiceTier returns the model/service tier from the end payload usage block.
func (e *InvocationEnd) ServiceTier() string {
	var rs responseStats
	if err := json.Unmarshal(e.ToolResponse, &rs); err != nil {
		return ""
	}
	return rs.Usage.ServiceTier
}

// Failed reports whether the end payload signals an error.
func (e *InvocationEnd) Failed() bool {
	if e.ToolError != "" {
		return true
	}
	var rs responseStats
	if err := json.Unmarshal(e.ToolResponse, &rs); err != nil {
		return false
	}
	return rs.IsError
}

// ParseError describes a malformed payload with positional context so
// the broken byte range can be found in the producer's output.
type ParseError struct {
	Err     error
	Offset  int64
	Line    int
	Column  int
	Context string
}

func (e *ParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("hookevent: parse payload at line %d col %d (offset %d): %v; near %q",
			e.Line, e.Column, e.Offset, e.Err, e.Context)
	}
	return fmt.Sprintf("hookevent: parse payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// describeError augments a json decode error with line/column/offset
// diagnostics and a window of surrounding text.
func describeError(err error, data []byte) *ParseError {
	pe := &ParseError{Err: err}

	var offset int64
	switch je := err.(type) {
	case *json.SyntaxError:
		offset = je.Offset
	case *json.UnmarshalTypeError:
		offset = je.Offset
	default:
		return pe
	}
	pe.Offset = offset

	line, col := 1, 1
	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	pe.Line = line
	pe.Column = col

	lo := offset - 20
	if lo < 0 {
		lo = 0
	}
	hi := offset + 20
	if hi > int64(len(data)) {
		hi = int64(len(data))
	}
	pe.Context = strings.ToValidUTF8(string(data[lo:hi]), "")
	return pe
}
