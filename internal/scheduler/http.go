package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/swarmguard/traceflow/internal/graphstore"
)

// Handler exposes the supplemental, non-core schedule management surface:
// POST to create/replace a schedule, GET to list, DELETE to remove one.
// These endpoints are additive and never alter the core submit/status/
// result/replay/nodes contract.
func (s *Scheduler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /schedules", s.handleCreate)
	mux.HandleFunc("GET /schedules", s.handleList)
	mux.HandleFunc("DELETE /schedules/{graph_name}", s.handleDelete)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Scheduler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var cfg graphstore.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if err := s.AddSchedule(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Scheduler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.ListSchedules()})
}

func (s *Scheduler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("graph_name")
	if err := s.RemoveSchedule(name); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
