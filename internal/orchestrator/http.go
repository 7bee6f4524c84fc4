package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/swarmguard/traceflow/internal/trace"
)

// runRequest is the POST /run body.
type runRequest struct {
	TaskName        string         `json:"task_name"`
	InputContext    map[string]any `json:"input_context"`
	ReplayMode      bool           `json:"replay_mode,omitempty"`
	ExecutionParams map[string]any `json:"execution_params,omitempty"`
}

// Handler builds the five core HTTP endpoints plus the liveness probe, all
// rooted at "" so callers can mount it under any prefix.
func (o *Orchestrator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", o.handleRun)
	mux.HandleFunc("GET /status/{trace_id}", o.handleStatus)
	mux.HandleFunc("GET /result/{trace_id}", o.handleResult)
	mux.HandleFunc("GET /nodes", o.handleNodes)
	mux.HandleFunc("GET /replay/{trace_id}", o.handleReplay)
	mux.HandleFunc("POST /test", o.handleTest)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.TaskName == "" {
		req.TaskName = "default"
	}
	traceID, err := o.Submit(req.TaskName, req.InputContext)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trace_id": traceID, "status": "running"})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	tr := o.Status(traceID)
	resp := map[string]any{"trace_id": traceID, "status": tr.Status}
	if tr.Error != "" {
		resp["error"] = tr.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (o *Orchestrator) handleResult(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	tr := o.Status(traceID)
	resp := map[string]any{"trace_id": traceID, "status": tr.Status}
	if tr.Status == StatusCompleted {
		resp["dag_output"] = tr.DAGOutput
	}
	if tr.Error != "" {
		resp["error"] = tr.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (o *Orchestrator) handleNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": o.NodeNames()})
}

func (o *Orchestrator) handleReplay(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	newTraceID, err := o.Replay(traceID)
	if err != nil {
		if errors.Is(err, trace.ErrNotFound) || strings.Contains(err.Error(), "not found") {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "trace not found"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trace_id": newTraceID, "status": "running"})
}

func (o *Orchestrator) handleTest(w http.ResponseWriter, r *http.Request) {
	var body any
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]any{"echo": body, "status": "ok"})
}
