package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/traceflow/internal/node"
	"github.com/swarmguard/traceflow/internal/nodeset"
	"github.com/swarmguard/traceflow/internal/sink"
	"github.com/swarmguard/traceflow/internal/trace"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	registry := node.NewRegistry()
	if err := nodeset.RegisterDefaults(registry, nodeset.EchoTextGenerator); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	sinks, err := sink.BuildFromConfig(sink.Config{
		JSONLEnabled: true,
		JSONLPath:    t.TempDir() + "/traces.jsonl",
	})
	if err != nil {
		t.Fatalf("build sinks: %v", err)
	}
	o := New(Config{
		WorkerPoolSize: 2,
		QueueSize:      8,
		CaptureIO:      true,
		TraceDir:       t.TempDir(),
	}, registry, nil, sinks)
	if err := o.RegisterGraph(nodeset.BuildDefaultGraph(registry)); err != nil {
		t.Fatalf("register graph: %v", err)
	}
	o.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Stop(ctx)
		_ = sinks.Close()
	})
	return o
}

func TestSubmitHappyPath(t *testing.T) {
	o := newTestOrchestrator(t)
	traceID, err := o.Submit(nodeset.DefaultGraphName, map[string]any{"query": "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tr := pollUntilDone(t, o, traceID)
	if tr.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", tr.Status, tr.Error)
	}
	exec, ok := tr.DAGOutput["executor"]
	if !ok {
		t.Fatalf("missing executor output")
	}
	if exec["result"] != "Executed: hi" {
		t.Fatalf("expected \"Executed: hi\", got %v", exec["result"])
	}
}

func TestStatusUnknownTraceID(t *testing.T) {
	o := newTestOrchestrator(t)
	tr := o.Status("does-not-exist")
	if tr.Status != StatusUnknown {
		t.Fatalf("expected unknown, got %s", tr.Status)
	}
}

func TestSubmitUnknownTaskFails(t *testing.T) {
	o := newTestOrchestrator(t)
	traceID, err := o.Submit("nope", map[string]any{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	tr := pollUntilDone(t, o, traceID)
	if tr.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", tr.Status)
	}
}

func TestReplayFidelity(t *testing.T) {
	o := newTestOrchestrator(t)
	traceID, err := o.Submit(nodeset.DefaultGraphName, map[string]any{"query": "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	original := pollUntilDone(t, o, traceID)
	if original.Status != StatusCompleted {
		t.Fatalf("original run did not complete: %s", original.Error)
	}

	replayID, err := o.Replay(traceID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	replayed := pollUntilDone(t, o, replayID)
	if replayed.Status != StatusCompleted {
		t.Fatalf("replay did not complete: %s", replayed.Error)
	}
	if replayed.DAGOutput["executor"]["result"] != original.DAGOutput["executor"]["result"] {
		t.Fatalf("replay output mismatch: %v != %v", replayed.DAGOutput["executor"], original.DAGOutput["executor"])
	}
}

// TestReplayFidelityWithSQLiteMirror exercises replay with the SQLite trace
// mirror enabled — the orchestrator's default configuration
// (TRACEFLOW_SQLITE_ENABLED defaults true) — rather than the JSONL-only
// path. It asserts the full S2 contract: the replay completes, and every
// one of its nodes is recorded as skipped_replay with an output hash
// matching the original run's.
func TestReplayFidelityWithSQLiteMirror(t *testing.T) {
	registry := node.NewRegistry()
	if err := nodeset.RegisterDefaults(registry, nodeset.EchoTextGenerator); err != nil {
		t.Fatalf("register defaults: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "traceflow.db")
	db, err := sink.OpenSQLiteDB(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	traceDir := t.TempDir()

	sinks, err := sink.BuildFromConfig(sink.Config{
		JSONLEnabled:  true,
		JSONLPath:     filepath.Join(t.TempDir(), "events.jsonl"),
		SQLiteEnabled: true,
		SQLiteDB:      db,
	})
	if err != nil {
		t.Fatalf("build sinks: %v", err)
	}

	o := New(Config{
		WorkerPoolSize: 2,
		QueueSize:      8,
		CaptureIO:      true,
		TraceDir:       traceDir,
	}, registry, db, sinks)
	if err := o.RegisterGraph(nodeset.BuildDefaultGraph(registry)); err != nil {
		t.Fatalf("register graph: %v", err)
	}
	o.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Stop(ctx)
		_ = sinks.Close()
		_ = db.Close()
	})

	traceID, err := o.Submit(nodeset.DefaultGraphName, map[string]any{"query": "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	original := pollUntilDone(t, o, traceID)
	if original.Status != StatusCompleted {
		t.Fatalf("original run did not complete: %s", original.Error)
	}

	replayID, err := o.Replay(traceID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	replayed := pollUntilDone(t, o, replayID)
	if replayed.Status != StatusCompleted {
		t.Fatalf("replay did not complete: %s", replayed.Error)
	}
	if replayed.DAGOutput["executor"]["result"] != original.DAGOutput["executor"]["result"] {
		t.Fatalf("replay output mismatch: %v != %v", replayed.DAGOutput["executor"], original.DAGOutput["executor"])
	}

	originalRec, err := trace.Load(traceDir, db, traceID)
	if err != nil {
		t.Fatalf("load original trace: %v", err)
	}
	replayedRec, err := trace.Load(traceDir, db, replayID)
	if err != nil {
		t.Fatalf("load replayed trace: %v", err)
	}
	if len(replayedRec.ExecutedNodes) != len(originalRec.ExecutedNodes) {
		t.Fatalf("node count mismatch: %d replayed vs %d original", len(replayedRec.ExecutedNodes), len(originalRec.ExecutedNodes))
	}
	if len(replayedRec.ExecutedNodes) == 0 {
		t.Fatalf("expected at least one executed node")
	}
	for i, ne := range replayedRec.ExecutedNodes {
		if ne.Status != trace.StatusSkippedReplay {
			t.Fatalf("node %d (%s): expected status %s, got %s", i, ne.NodeName, trace.StatusSkippedReplay, ne.Status)
		}
		if ne.OutputHash != originalRec.ExecutedNodes[i].OutputHash {
			t.Fatalf("node %d (%s): output hash mismatch: %s != %s", i, ne.NodeName, ne.OutputHash, originalRec.ExecutedNodes[i].OutputHash)
		}
	}
}

func pollUntilDone(t *testing.T, o *Orchestrator, traceID string) TaskResult {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tr := o.Status(traceID)
		if tr.Status == StatusCompleted || tr.Status == StatusFailed {
			return tr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", traceID)
	return TaskResult{}
}
