package trace

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/traceflow/internal/hashutil"
)

// ErrAlreadyActive is returned by InitTrace when a handle already has an
// open, unfinalized record.
var ErrAlreadyActive = errors.New("trace: record already active")

// ErrNotFound is returned by Load when no record exists for a trace id.
var ErrNotFound = errors.New("trace: not found")

// Recorder builds TraceRecords for live runs and reloads them for replay.
// One Recorder handle is owned per run by the kernel; Load is safe to call
// from any goroutine since it only reads the backing store.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	db       *sql.DB
	captureIO bool

	record    *TraceRecord
	finalized bool
}

// NewRecorder constructs a recorder that writes trace_<id>.jsonl files under
// dir and, if db is non-nil, mirrors each finalized record into the
// traces table.
func NewRecorder(dir string, db *sql.DB, captureIO bool) *Recorder {
	return &Recorder{dir: dir, db: db, captureIO: captureIO}
}

// InitTrace opens a fresh TraceRecord in the "start" state. If traceID is
// empty a UUIDv4 is allocated.
func (r *Recorder) InitTrace(taskName, traceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record != nil && !r.finalized {
		return "", ErrAlreadyActive
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	r.record = &TraceRecord{
		TraceID:   traceID,
		TaskName:  taskName,
		StartTime: time.Now().UTC(),
	}
	r.finalized = false
	return traceID, nil
}

// SetReplayInfo records that this run is a replay of sourceTraceID.
func (r *Recorder) SetReplayInfo(sourceTraceID string, generatedFor []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return
	}
	r.record.ReplayInfo = ReplayInfo{
		ReplayCount:   r.record.ReplayInfo.ReplayCount + 1,
		SourceTraceID: sourceTraceID,
		GeneratedFor:  generatedFor,
	}
}

// RecordNode appends a NodeExecution to the open record, computing
// input/output hashes if capture is enabled.
func (r *Recorder) RecordNode(nodeName, version string, input, output map[string]any, status Status, runtimeMs float64, errMsg string) (NodeExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return NodeExecution{}, errors.New("trace: no active record")
	}
	ne := NodeExecution{
		NodeName:     nodeName,
		Version:      version,
		Input:        input,
		Output:       output,
		Status:       status,
		RuntimeMs:    runtimeMs,
		Timestamp:    time.Now().UTC(),
		ErrorMessage: errMsg,
	}
	if r.captureIO {
		if h, err := hashutil.Hash(input); err == nil {
			ne.InputHash = h
		}
		if output != nil {
			if h, err := hashutil.Hash(output); err == nil {
				ne.OutputHash = h
			}
		}
	}
	r.record.ExecutedNodes = append(r.record.ExecutedNodes, ne)
	return ne, nil
}

// Finalize sets end_time and writes the full record to disk (and optionally
// SQL). Idempotent: a second call returns the same record without
// rewriting.
func (r *Recorder) Finalize() (*TraceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return nil, errors.New("trace: no active record")
	}
	if r.finalized {
		return r.record, nil
	}
	end := time.Now().UTC()
	r.record.EndTime = &end
	r.finalized = true

	if err := r.writeFile(r.record); err != nil {
		return r.record, fmt.Errorf("trace: write file: %w", err)
	}
	if r.db != nil {
		if err := r.writeSQL(r.record); err != nil {
			return r.record, fmt.Errorf("trace: write sql: %w", err)
		}
	}
	return r.record, nil
}

func (r *Recorder) writeFile(rec *TraceRecord) error {
	if r.dir == "" {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	final := filepath.Join(r.dir, fmt.Sprintf("trace_%s.jsonl", rec.TraceID))
	tmp := final + ".tmp"
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}

// writeSQL mirrors the finalized record into two tables: the literal
// per-event "traces" table the embedded-SQL sink also writes to (hashes
// only, one row per node invocation, matching spec's column list), and a
// "trace_records" table holding the complete canonical JSON of the record
// keyed by trace_id. The "traces" table alone cannot reconstruct a
// TraceRecord's per-node input/output bodies, so replay reads from
// "trace_records" instead (mirroring the original implementation's
// replay_trace.py, which stores the same full-record JSON blob in SQLite).
func (r *Recorder) writeSQL(rec *TraceRecord) error {
	if err := ensureTraceRecordsTable(r.db); err != nil {
		return err
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	for _, ne := range rec.ExecutedNodes {
		_, err := tx.Exec(
			`INSERT INTO traces(trace_id, span_id, node_name, version, status, timestamp, runtime_ms, input_hash, output_hash, error_message, tags) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.TraceID, uuid.NewString(), ne.NodeName, ne.Version, string(ne.Status),
			ne.Timestamp.Format(time.RFC3339Nano), ne.RuntimeMs, ne.InputHash, ne.OutputHash, ne.ErrorMessage, "",
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		tx.Rollback()
		return err
	}
	var endTime string
	if rec.EndTime != nil {
		endTime = rec.EndTime.Format(time.RFC3339Nano)
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO trace_records(trace_id, task_name, data, start_time, end_time) VALUES (?, ?, ?, ?, ?)`,
		rec.TraceID, rec.TaskName, string(data), rec.StartTime.Format(time.RFC3339Nano), endTime,
	); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ensureTraceRecordsTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS trace_records (
		trace_id TEXT PRIMARY KEY,
		task_name TEXT NOT NULL,
		data TEXT NOT NULL,
		start_time TEXT,
		end_time TEXT
	)`)
	return err
}

// Load reconstructs a TraceRecord by id, preferring the SQL "trace_records"
// mirror if configured and present, else falling back to the line-JSON
// file. Unlike the per-event "traces" table, "trace_records" carries the
// full record (including per-node input/output bodies), so it alone is
// sufficient to reconstruct a replayable record.
func Load(dir string, db *sql.DB, traceID string) (*TraceRecord, error) {
	if db != nil {
		rec, err := loadFromSQL(db, traceID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return loadFromFile(dir, traceID)
}

func loadFromFile(dir, traceID string) (*TraceRecord, error) {
	path := filepath.Join(dir, fmt.Sprintf("trace_%s.jsonl", traceID))
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec TraceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("trace: corrupt record %s: %w", traceID, err)
	}
	return &rec, nil
}

func loadFromSQL(db *sql.DB, traceID string) (*TraceRecord, error) {
	if err := ensureTraceRecordsTable(db); err != nil {
		return nil, err
	}
	var data string
	err := db.QueryRow(`SELECT data FROM trace_records WHERE trace_id = ?`, traceID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec TraceRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("trace: corrupt sql record %s: %w", traceID, err)
	}
	return &rec, nil
}
