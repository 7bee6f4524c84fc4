// Package sink provides append-only writers for trace events: line-JSON
// files, an embedded SQL table, and an optional NATS publish stream.
package sink

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/swarmguard/traceflow/internal/trace"
)

// Sink is a polymorphic, advisory writer: a failed write is logged but never
// aborts the node that produced the event.
type Sink interface {
	Write(ctx context.Context, event trace.Event) error
	Close() error
}

// Config controls which sinks BuildFromConfig constructs.
type Config struct {
	JSONLEnabled bool
	JSONLPath    string

	SQLiteEnabled bool
	SQLitePath    string
	// SQLiteDB, if set, is an already-open handle to reuse instead of
	// opening a second connection to SQLitePath. Callers that also hand a
	// *sql.DB to the trace Recorder should share one handle here rather
	// than open the same file twice (the pure-Go driver pins each handle
	// to a single connection, so two handles on one file serialize writes
	// against each other and can surface SQLITE_BUSY under concurrent
	// runs).
	SQLiteDB *sql.DB

	StreamEnabled bool
	StreamURL     string
}

// Multi fans a single write out to every configured sink, logging (not
// failing) on individual sink errors.
type Multi struct {
	sinks []Sink
}

// BuildFromConfig constructs the set of sinks enabled in cfg, mirroring the
// "get_configured_sinks" composition pattern: each flag independently gates
// one sink, and a disabled/unavailable sink is simply omitted.
func BuildFromConfig(cfg Config) (*Multi, error) {
	m := &Multi{}
	if cfg.JSONLEnabled {
		m.sinks = append(m.sinks, NewJSONLSink(cfg.JSONLPath))
	}
	if cfg.SQLiteEnabled {
		if cfg.SQLiteDB != nil {
			s, err := NewSQLiteSinkFromDB(cfg.SQLiteDB)
			if err != nil {
				slog.Warn("sqlite sink unavailable, disabling", "error", err)
			} else {
				m.sinks = append(m.sinks, s)
			}
		} else if s, err := NewSQLiteSink(cfg.SQLitePath); err != nil {
			slog.Warn("sqlite sink unavailable, disabling", "error", err)
		} else {
			m.sinks = append(m.sinks, s)
		}
	}
	if cfg.StreamEnabled {
		s, err := NewNATSSink(cfg.StreamURL)
		if err != nil {
			slog.Warn("nats sink unavailable, disabling", "error", err)
		} else {
			m.sinks = append(m.sinks, s)
		}
	}
	return m, nil
}

// Write fans out to every configured sink. Errors are logged, not returned:
// sinks are advisory per the trace-sink contract.
func (m *Multi) Write(ctx context.Context, event trace.Event) {
	for _, s := range m.sinks {
		if err := s.Write(ctx, event); err != nil {
			slog.Warn("sink write failed", "node", event.NodeName, "trace_id", event.TraceID, "error", err)
		}
	}
}

// Close drains and closes every configured sink. Idempotent per-sink.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
