// Package trace defines the per-run trace record model and the Recorder
// that builds, finalizes, and reloads it.
package trace

import "time"

// Status is the outcome of a single node invocation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusFailure         Status = "failure"
	StatusValidationError Status = "validation_error"
	StatusSkippedReplay   Status = "skipped_replay"
)

// NodeExecution is one entry per node invocation within a run.
type NodeExecution struct {
	NodeName     string         `json:"node_name"`
	Version      string         `json:"version"`
	Input        map[string]any `json:"input"`
	Output       map[string]any `json:"output,omitempty"`
	Status       Status         `json:"status"`
	RuntimeMs    float64        `json:"runtime_ms"`
	Timestamp    time.Time      `json:"timestamp"`
	ErrorMessage string         `json:"error_message,omitempty"`
	InputHash    string         `json:"input_hash"`
	OutputHash   string         `json:"output_hash,omitempty"`
}

// ReplayInfo describes whether, and from what, a run was replayed.
type ReplayInfo struct {
	ReplayCount    int      `json:"replay_count"`
	SourceTraceID  string   `json:"source_trace_id,omitempty"`
	GeneratedFor   []string `json:"generated_for,omitempty"`
}

// TraceRecord is the complete recorded history of one run.
type TraceRecord struct {
	TraceID       string          `json:"trace_id"`
	TaskName      string          `json:"task_name"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	ExecutedNodes []NodeExecution `json:"executed_nodes"`
	ReplayInfo    ReplayInfo      `json:"replay_info"`
}

// Event is the subset of NodeExecution emitted to sinks, plus identifiers
// that let a sink correlate events to a run and span without reading the
// full trace file.
type Event struct {
	TraceID      string    `json:"trace_id"`
	SpanID       string    `json:"span_id"`
	NodeName     string    `json:"node_name"`
	Version      string    `json:"version"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	RuntimeMs    float64   `json:"runtime_ms"`
	InputHash    string    `json:"input_hash"`
	OutputHash   string    `json:"output_hash,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}
