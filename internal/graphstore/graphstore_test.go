package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/swarmguard/traceflow/internal/node"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graphstore.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetGraphRoundTrips(t *testing.T) {
	s := openTestStore(t)
	def := GraphDef{
		Name:  "ingest",
		Entry: "retriever",
		Edges: []EdgeDef{{From: "retriever", To: "llm"}, {From: "llm", To: "executor"}},
	}
	if err := s.PutGraph(def); err != nil {
		t.Fatalf("put graph: %v", err)
	}
	got, found, err := s.GetGraph("ingest")
	if err != nil {
		t.Fatalf("get graph: %v", err)
	}
	if !found {
		t.Fatalf("expected graph to be found")
	}
	if len(got.Edges) != 2 || got.Entry != "retriever" {
		t.Fatalf("unexpected round-tripped graph: %+v", got)
	}
}

func TestGetGraphMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetGraph("nope")
	if err != nil {
		t.Fatalf("get graph: %v", err)
	}
	if found {
		t.Fatalf("expected not found for unknown graph name")
	}
}

func TestListGraphsReturnsAllPersisted(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutGraph(GraphDef{Name: "a", Entry: "x"}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := s.PutGraph(GraphDef{Name: "b", Entry: "y"}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	defs, err := s.ListGraphs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 persisted graphs, got %d", len(defs))
	}
}

func TestGraphDefBuildProducesValidatableGraph(t *testing.T) {
	registry := node.NewRegistry()
	noop := func(_ context.Context, _ map[string]any) (map[string]any, error) { return map[string]any{}, nil }
	for _, name := range []string{"retriever", "llm", "executor"} {
		if err := registry.Register(&node.Spec{Name: name, Func: noop}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	def := GraphDef{
		Name:  "ingest",
		Entry: "retriever",
		Edges: []EdgeDef{{From: "retriever", To: "llm"}, {From: "llm", To: "executor"}},
	}
	g := def.Build(registry)
	if err := g.Validate(); err != nil {
		t.Fatalf("expected reconstructed graph to validate, got %v", err)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	cfg := ScheduleConfig{GraphName: "ingest", CronExpr: "*/5 * * * * *", Enabled: true}
	if err := s.PutSchedule(cfg); err != nil {
		t.Fatalf("put schedule: %v", err)
	}
	cfgs, err := s.ListSchedules()
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].GraphName != "ingest" {
		t.Fatalf("unexpected schedules: %+v", cfgs)
	}
	if err := s.DeleteSchedule("ingest"); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	cfgs, err = s.ListSchedules()
	if err != nil {
		t.Fatalf("list schedules after delete: %v", err)
	}
	if len(cfgs) != 0 {
		t.Fatalf("expected no schedules after delete, got %d", len(cfgs))
	}
}
