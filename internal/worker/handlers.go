package worker

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const defaultListLimit = 50

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !s.ready.Load() {
		status = http.StatusServiceUnavailable
	}
	snap := s.agg.Snapshot()
	writeJSON(w, status, map[string]any{
		"status":         s.loop.State(),
		"version":        s.version,
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"last_collected": snap.CollectedAt,
		"collection_id":  snap.CollectionID,
		"sse_clients":    s.broadcaster.ClientCount(),
	})
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agg.Snapshot())
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.Recent(r.Context(), queryLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("list sessions")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("get session")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleSessionInvocations(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	invs, err := s.invocations.BySession(r.Context(), sessionID, queryLimit(r))
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("list invocations")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": invs})
}

func (s *Service) handleSessionTools(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	tools, err := s.toolUses.BySession(r.Context(), sessionID, queryLimit(r))
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("list tool uses")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_uses": tools})
}

func (s *Service) handleAgentPrompts(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agentName")
	invs, err := s.invocations.PromptsByAgent(r.Context(), agentName, queryLimit(r))
	if err != nil {
		log.Error().Err(err).Str("agent", agentName).Msg("list prompts")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	type promptEntry struct {
		SessionID string `json:"session_id"`
		StartedAt string `json:"started_at"`
		Prompt    string `json:"prompt"`
		TicketID  string `json:"ticket_id,omitempty"`
	}
	prompts := make([]promptEntry, 0, len(invs))
	for _, inv := range invs {
		prompts = append(prompts, promptEntry{
			SessionID: inv.SessionID,
			StartedAt: inv.StartedAt,
			Prompt:    inv.Prompt,
			TicketID:  inv.TicketID.String,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentName, "prompts": prompts})
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = "prompt"
	}
	invs, err := s.invocations.Search(r.Context(), field, term, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": invs})
}

// handleEvents is the polling variant of the tail feed: everything
// appended after the given cursors, re-readable.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	afterID := int64(0)
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after_id")
			return
		}
		afterID = n
	}
	afterToolID := afterID
	if raw := r.URL.Query().Get("after_tool_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after_tool_id")
			return
		}
		afterToolID = n
	}

	limit := queryLimit(r)
	invs, err := s.invocations.After(r.Context(), afterID, limit)
	if err != nil {
		log.Error().Err(err).Msg("poll invocations")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	tools, err := s.toolUses.After(r.Context(), afterToolID, limit)
	if err != nil {
		log.Error().Err(err).Msg("poll tool uses")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	nextInv, nextTool := afterID, afterToolID
	for _, inv := range invs {
		if inv.ID > nextInv {
			nextInv = inv.ID
		}
	}
	for _, tu := range tools {
		if tu.ID > nextTool {
			nextTool = tu.ID
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invocations":  invs,
		"tool_uses":    tools,
		"next_id":      nextInv,
		"next_tool_id": nextTool,
	})
}
