// Package agentctx tracks which invocation is current for each session
// so tool activity between a begin and its end is attributed to the
// right invocation with a monotonically increasing sequence number.
//
// Context is kept per session as an explicit stack of active
// invocations, so same-named agents that nest resolve LIFO and two
// sessions running at once never cross-attribute each other's tools.
package agentctx

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// Frame is one active invocation on a session's context stack.
type Frame struct {
	AgentName    string `json:"agent_name"`
	InvocationID int64  `json:"invocation_id"`
	Seq          int64  `json:"seq"`
}

// sessionContext is the persisted shape of one session's tracker state.
// DirectSeq numbers tool uses that happen while the stack is empty.
type sessionContext struct {
	Stack     []Frame `json:"stack"`
	DirectSeq int64   `json:"direct_seq"`
}

// Tracker persists per-session context stacks under a state directory.
type Tracker struct {
	dir string
}

// NewTracker creates a tracker rooted at dir.
func NewTracker(dir string) *Tracker {
	return &Tracker{dir: dir}
}

func (t *Tracker) path(sessionID string) string {
	return filepath.Join(t.dir, sessionID+"_context.json")
}

// load reads a session's context, treating absence or corruption as an
// empty stack.
func (t *Tracker) load(sessionID string) *sessionContext {
	data, err := os.ReadFile(t.path(sessionID))
	if err != nil {
		return &sessionContext{}
	}
	var sc sessionContext
	if err := json.Unmarshal(data, &sc); err != nil {
		log.Warn().Str("session", sessionID).Err(err).Msg("corrupt context file, resetting stack")
		return &sessionContext{}
	}
	return &sc
}

func (t *Tracker) save(sessionID string, sc *sessionContext) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	tmp := t.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path(sessionID))
}

// Push makes an invocation the current context for its session. Its
// tool sequence starts from zero.
func (t *Tracker) Push(sessionID, agentName string, invocationID int64) error {
	sc := t.load(sessionID)
	sc.Stack = append(sc.Stack, Frame{AgentName: agentName, InvocationID: invocationID})
	return t.save(sessionID, sc)
}

// Pop removes the most recent frame for the named agent (LIFO). A pop
// with no matching frame is tolerated: the end event may belong to an
// invocation recorded before a context reset.
func (t *Tracker) Pop(sessionID, agentName string) error {
	sc := t.load(sessionID)
	for i := len(sc.Stack) - 1; i >= 0; i-- {
		if sc.Stack[i].AgentName == agentName {
			sc.Stack = append(sc.Stack[:i], sc.Stack[i+1:]...)
			return t.save(sessionID, sc)
		}
	}
	return nil
}

// Current returns the invocation on top of the session's stack, or the
// direct sentinel when the stack is empty.
func (t *Tracker) Current(sessionID string) (agentName string, invocationID int64) {
	sc := t.load(sessionID)
	if len(sc.Stack) == 0 {
		return models.DirectAgentName, 0
	}
	top := sc.Stack[len(sc.Stack)-1]
	return top.AgentName, top.InvocationID
}

// NextSequence increments and returns the tool sequence number for the
// session's current invocation, together with that invocation's
// identity. Sequence numbers are 1-based and reset whenever a new
// invocation is pushed.
func (t *Tracker) NextSequence(sessionID string) (agentName string, invocationID, seq int64, err error) {
	sc := t.load(sessionID)
	if len(sc.Stack) == 0 {
		sc.DirectSeq++
		if err := t.save(sessionID, sc); err != nil {
			return models.DirectAgentName, 0, sc.DirectSeq, err
		}
		return models.DirectAgentName, 0, sc.DirectSeq, nil
	}
	top := &sc.Stack[len(sc.Stack)-1]
	top.Seq++
	if err := t.save(sessionID, sc); err != nil {
		return top.AgentName, top.InvocationID, top.Seq, err
	}
	return top.AgentName, top.InvocationID, top.Seq, nil
}

// CleanupExpired removes context files whose sessions have been idle
// past the retention window.
func (t *Tracker) CleanupExpired(retention time.Duration) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), "_context.json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(t.dir, entry.Name()))
		}
	}
}
