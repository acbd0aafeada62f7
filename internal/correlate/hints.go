package correlate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// hintKeyLayout is a fixed-width RFC3339 variant so that the
// lexicographically largest key is also the temporally most recent.
const hintKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Hints is the ephemeral per-session side index mapping
// (agent name, begin time) to an invocation id. It exists only to
// spare the common case a store scan; it is never authoritative.
// A missing or corrupt hint file is an empty index, not an error.
type Hints struct {
	dir       string
	retention time.Duration
}

// NewHints creates a hint index rooted at dir with the given retention.
func NewHints(dir string, retention time.Duration) *Hints {
	return &Hints{dir: dir, retention: retention}
}

func (h *Hints) path(sessionID string) string {
	return filepath.Join(h.dir, sessionID+"_invocations.json")
}

// load reads the hint map for a session, treating any failure as empty.
func (h *Hints) load(sessionID string) map[string]int64 {
	data, err := os.ReadFile(h.path(sessionID))
	if err != nil {
		return map[string]int64{}
	}
	hints := map[string]int64{}
	if err := json.Unmarshal(data, &hints); err != nil {
		log.Warn().Str("session", sessionID).Err(err).Msg("corrupt hint file, treating as empty")
		return map[string]int64{}
	}
	return hints
}

// save writes the hint map via temp-file rename so a concurrent reader
// never sees a torn write. An empty map removes the file.
func (h *Hints) save(sessionID string, hints map[string]int64) error {
	path := h.path(sessionID)
	if len(hints) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.Marshal(hints)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Put records a hint for a freshly opened invocation.
func (h *Hints) Put(sessionID, agentName string, startedAt time.Time, invocationID int64) error {
	hints := h.load(sessionID)
	hints[agentName+"_"+startedAt.UTC().Format(hintKeyLayout)] = invocationID
	return h.save(sessionID, hints)
}

// Take consumes the most recent hint for (session, agent). Each hint
// resolves at most one end notification; the entry is deleted on use.
func (h *Hints) Take(sessionID, agentName string) (int64, bool) {
	hints := h.load(sessionID)
	if len(hints) == 0 {
		return 0, false
	}

	prefix := agentName + "_"
	var keys []string
	for key := range hints {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		// Agent names may themselves contain underscores; only a key
		// whose remainder is a bare timestamp belongs to this agent.
		if _, err := time.Parse(hintKeyLayout, key[len(prefix):]); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return 0, false
	}
	sort.Strings(keys)
	key := keys[len(keys)-1]

	id := hints[key]
	delete(hints, key)
	if err := h.save(sessionID, hints); err != nil {
		log.Warn().Str("session", sessionID).Err(err).Msg("failed to consume hint entry")
	}
	return id, true
}

// CleanupExpired removes hint files past the retention window. Errors
// are ignored: expiry is opportunistic housekeeping.
func (h *Hints) CleanupExpired() {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-h.retention)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), "_invocations.json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(h.dir, entry.Name()))
		}
	}
}
