package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/paydeck/paydeck/internal/agent"
	"github.com/paydeck/paydeck/internal/orchestrator"
	"github.com/paydeck/paydeck/internal/telemetry"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"service": "paydeck agent backend",
		"status":  "running",
	})
}

// handleTelemetry returns the parsed tail of the transactions log. The logs
// field is always present; an empty window serializes as an empty array.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	points := s.engine.Telemetry(queryInt(r, "window", 50))
	if points == nil {
		points = make([]telemetry.Point, 0)
	}
	writeJSON(w, map[string]any{"logs": points})
}

func (s *Server) handleAgentState(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'thread_id' is required")
		return
	}

	st := s.engine.State(threadID)
	if !st.Waiting {
		writeJSON(w, map[string]string{"status": "RUNNING"})
		return
	}
	writeJSON(w, map[string]string{
		"status":   orchestrator.StatusWaitingForApproval,
		"proposal": st.Proposal,
		"tool":     st.Tool,
	})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	lines := s.engine.RunCycle(req.ThreadID)
	s.hub.BroadcastCycle(req.ThreadID, lines)
	writeJSON(w, map[string]any{"logs": lines})
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string `json:"thread_id"`
		Approved bool   `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	lines, err := s.engine.Resolve(req.ThreadID, req.Approved)
	if err != nil {
		if errors.Is(err, agent.ErrNoPendingAction) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.BroadcastCycle(req.ThreadID, lines)
	writeJSON(w, map[string]any{
		"status": "resolved",
		"logs":   lines,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history store is not configured")
		return
	}

	records, err := s.store.List(r.URL.Query().Get("thread_id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"records": records})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfgLoader == nil {
		writeError(w, http.StatusServiceUnavailable, "config loader is not configured")
		return
	}
	if err := s.cfgLoader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "reloaded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
