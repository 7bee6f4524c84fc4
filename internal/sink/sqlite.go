package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/swarmguard/traceflow/internal/trace"
)

// SQLiteSink mirrors events into a single "traces" table over a pure-Go
// SQLite driver, one row per event, each write wrapped in its own commit.
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

const createTracesTableSQL = `CREATE TABLE IF NOT EXISTS traces (
	trace_id TEXT NOT NULL,
	span_id TEXT NOT NULL,
	node_name TEXT NOT NULL,
	version TEXT NOT NULL,
	status TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	runtime_ms REAL NOT NULL,
	input_hash TEXT,
	output_hash TEXT,
	error_message TEXT,
	tags TEXT
)`

// OpenSQLiteDB opens (creating if necessary) the traces database and
// ensures its schema exists. Exposed separately from NewSQLiteSink so the
// Recorder can mirror finalized TraceRecords into the same table, and so a
// single handle can be shared between the sink and the Recorder instead of
// each opening its own connection to the same file.
func OpenSQLiteDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTracesTableSQL); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLiteSink opens path and ensures the traces table exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := OpenSQLiteDB(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open sqlite: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// NewSQLiteSinkFromDB wraps an already-open handle instead of opening a
// second connection to the same file, so the sink and a trace Recorder
// mirroring to the same database share one connection (the pure-Go driver
// pins each *sql.DB to a single connection, so two handles on one file
// serialize against each other and can surface SQLITE_BUSY under
// concurrent runs).
func NewSQLiteSinkFromDB(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(createTracesTableSQL); err != nil {
		return nil, fmt.Errorf("sink: ensure traces table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write inserts one row for event, committed immediately.
func (s *SQLiteSink) Write(ctx context.Context, event trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spanID := event.SpanID
	if spanID == "" {
		spanID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces(trace_id, span_id, node_name, version, status, timestamp, runtime_ms, input_hash, output_hash, error_message, tags) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.TraceID, spanID, event.NodeName, event.Version, string(event.Status),
		event.Timestamp.Format(time.RFC3339Nano), event.RuntimeMs, event.InputHash, event.OutputHash,
		event.ErrorMessage, strings.Join(event.Tags, ","),
	)
	return err
}

// Close closes the underlying database handle. Idempotent.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
