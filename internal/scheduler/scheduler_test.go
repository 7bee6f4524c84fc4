package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/swarmguard/traceflow/internal/graphstore"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSubmitter) Submit(graphName string, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, graphName)
	return "trace-" + graphName, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddScheduleRegistersAndPersists(t *testing.T) {
	store := openTestStore(t)
	sub := &fakeSubmitter{}
	s := New(sub, store)

	cfg := graphstore.ScheduleConfig{GraphName: "ingest", CronExpr: "*/1 * * * * *", Enabled: true}
	if err := s.AddSchedule(cfg); err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	persisted, err := store.ListSchedules()
	if err != nil {
		t.Fatalf("list persisted schedules: %v", err)
	}
	if len(persisted) != 1 || persisted[0].GraphName != "ingest" {
		t.Fatalf("expected schedule to be persisted, got %+v", persisted)
	}

	list := s.ListSchedules()
	if len(list) != 1 || list[0].GraphName != "ingest" {
		t.Fatalf("expected one registered schedule, got %+v", list)
	}
}

func TestSchedulerFiresRegisteredJob(t *testing.T) {
	store := openTestStore(t)
	sub := &fakeSubmitter{}
	s := New(sub, store)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	cfg := graphstore.ScheduleConfig{GraphName: "ingest", CronExpr: "* * * * * *", Enabled: true}
	if err := s.AddSchedule(cfg); err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sub.count() > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected at least one scheduled submission within deadline")
}

func TestRemoveScheduleUnregistersAndUnpersists(t *testing.T) {
	store := openTestStore(t)
	sub := &fakeSubmitter{}
	s := New(sub, store)

	cfg := graphstore.ScheduleConfig{GraphName: "ingest", CronExpr: "* * * * * *", Enabled: true}
	if err := s.AddSchedule(cfg); err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	if err := s.RemoveSchedule("ingest"); err != nil {
		t.Fatalf("remove schedule: %v", err)
	}
	if len(s.ListSchedules()) != 0 {
		t.Fatalf("expected no schedules after removal")
	}
	cfgs, err := store.ListSchedules()
	if err != nil {
		t.Fatalf("list persisted schedules: %v", err)
	}
	if len(cfgs) != 0 {
		t.Fatalf("expected schedule to be un-persisted after removal, got %+v", cfgs)
	}
}

func TestRestoreSchedulesReloadsPersistedEntries(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutSchedule(graphstore.ScheduleConfig{GraphName: "ingest", CronExpr: "*/1 * * * * *", Enabled: true}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	sub := &fakeSubmitter{}
	s := New(sub, store)
	if err := s.RestoreSchedules(); err != nil {
		t.Fatalf("restore schedules: %v", err)
	}
	list := s.ListSchedules()
	if len(list) != 1 || list[0].GraphName != "ingest" {
		t.Fatalf("expected restored schedule, got %+v", list)
	}
}
