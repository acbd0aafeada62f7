package hookevent

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSessionStart(t *testing.T) {
	data := []byte(`{"session_id":"s1","cwd":"/work","hook_event_name":"SessionStart"}`)
	ev, err := Parse(NameSessionStart, data)
	require.NoError(t, err)

	start, ok := ev.(*SessionStart)
	require.True(t, ok)
	assert.Equal(t, "s1", start.SessionID)
	assert.Equal(t, "/work", start.CWD)
	assert.Equal(t, data, start.Raw)
}

func TestParseStop(t *testing.T) {
	ev, err := Parse(NameStop, []byte(`{"session_id":"s1"}`))
	require.NoError(t, err)

	_, ok := ev.(*SessionEnd)
	require.True(t, ok)
	assert.Equal(t, "s1", ev.Session())
}

func TestParsePreToolUseTask(t *testing.T) {
	data := []byte(`{
		"session_id": "s1",
		"tool_name": "Task",
		"tool_input": {"subagent_type": "architect", "prompt": "design it"}
	}`)
	ev, err := Parse(NamePreToolUse, data)
	require.NoError(t, err)

	begin, ok := ev.(*InvocationBegin)
	require.True(t, ok)
	assert.Equal(t, "architect", begin.AgentName)
	assert.Equal(t, "design it", begin.Prompt)
	assert.NotEmpty(t, begin.ToolInput)
}

func TestParsePreToolUseTaskMissingSubagent(t *testing.T) {
	data := []byte(`{"session_id":"s1","tool_name":"Task","tool_input":{"prompt":"hi"}}`)
	ev, err := Parse(NamePreToolUse, data)
	require.NoError(t, err)

	begin := ev.(*InvocationBegin)
	assert.Equal(t, "unknown", begin.AgentName)
}

func TestParsePreToolUseOrdinaryTool(t *testing.T) {
	data := []byte(`{"session_id":"s1","tool_name":"Bash","tool_input":{"command":"ls"}}`)
	ev, err := Parse(NamePreToolUse, data)
	require.NoError(t, err)

	begin, ok := ev.(*ToolBegin)
	require.True(t, ok)
	assert.Equal(t, "Bash", begin.ToolName)
}

func TestParsePostToolUseTask(t *testing.T) {
	data := []byte(`{
		"session_id": "s1",
		"tool_name": "Task",
		"tool_input": {"subagent_type": "architect"},
		"tool_response": {"duration_ms": 1500},
		"tool_error": "boom"
	}`)
	ev, err := Parse(NamePostToolUse, data)
	require.NoError(t, err)

	end, ok := ev.(*InvocationEnd)
	require.True(t, ok)
	assert.Equal(t, "architect", end.AgentName)
	assert.Equal(t, "boom", end.ToolError)
}

func TestParsePostToolUseOrdinaryTool(t *testing.T) {
	data := []byte(`{"session_id":"s1","tool_name":"Read","tool_response":{"ok":true}}`)
	ev, err := Parse(NamePostToolUse, data)
	require.NoError(t, err)

	end, ok := ev.(*ToolEnd)
	require.True(t, ok)
	assert.Equal(t, "Read", end.ToolName)
}

func TestParseMissingSessionDefaultsUnknown(t *testing.T) {
	ev, err := Parse(NameStop, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.Session())
}

func TestParseUnknownHookPreserved(t *testing.T) {
	data := []byte(`{"session_id":"s1"}`)
	ev, err := Parse("Notification", data)
	require.NoError(t, err)

	unk, ok := ev.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, data, unk.Raw)
}

func TestParseErrorDiagnostics(t *testing.T) {
	data := []byte("{\"session_id\": \"s1\",\n\"tool_name\": }")
	_, err := Parse(NamePreToolUse, data)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
	assert.Greater(t, pe.Offset, int64(0))
	assert.NotEmpty(t, pe.Context)
	assert.Contains(t, pe.Error(), "line 2")
}

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
		ok       bool
	}{
		{"duration_ms", `{"duration_ms": 2500}`, 2.5, true},
		{"totalDurationMs fallback", `{"totalDurationMs": 4000}`, 4.0, true},
		{"duration_ms preferred", `{"duration_ms": 1000, "totalDurationMs": 9000}`, 1.0, true},
		{"neither present", `{"totalTokens": 10}`, 0, false},
		{"empty response", ``, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end := &InvocationEnd{ToolResponse: json.RawMessage(tt.response)}
			got, ok := end.DurationSeconds()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestFailed(t *testing.T) {
	tests := []struct {
		name string
		end  InvocationEnd
		want bool
	}{
		{"tool_error set", InvocationEnd{ToolError: "boom"}, true},
		{"is_error set", InvocationEnd{ToolResponse: json.RawMessage(`{"is_error": true}`)}, true},
		{"clean response", InvocationEnd{ToolResponse: json.RawMessage(`{"duration_ms": 10}`)}, false},
		{"no response", InvocationEnd{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.end.Failed())
		})
	}
}

func TestTotalTokensAndServiceTier(t *testing.T) {
	end := &InvocationEnd{ToolResponse: json.RawMessage(
		`{"totalTokens": 1234, "usage": {"service_tier": "standard"}}`,
	)}

	n, ok := end.TotalTokens()
	require.True(t, ok)
	assert.Equal(t, int64(1234), n)
	assert.Equal(t, "standard", end.ServiceTier())

	empty := &InvocationEnd{}
	_, ok = empty.TotalTokens()
	assert.False(t, ok)
	assert.Empty(t, empty.ServiceTier())
}

func TestParseErrorContextIsValidUTF8(t *testing.T) {
	data := []byte(`{"session_id": "` + strings.Repeat("\xff", 8) + `}`)
	_, err := Parse(NameStop, data)
	require.Error(t, err)

	var pe *ParseError
	if errors.As(err, &pe) && pe.Context != "" {
		assert.True(t, strings.ToValidUTF8(pe.Context, "") == pe.Context)
	}
}
