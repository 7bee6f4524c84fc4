// Package scheduler provides periodic re-submission of registered graphs,
// an additive feature beyond the core submit/status/result/replay surface:
// a cron-driven caller of the same submission path an HTTP client would
// use.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/traceflow/internal/graphstore"
)

// Submitter is the narrow slice of the orchestrator the scheduler depends
// on, kept separate to avoid a scheduler -> orchestrator -> scheduler
// import cycle.
type Submitter interface {
	Submit(graphName string, input map[string]any) (traceID string, err error)
}

// Scheduler wraps a cron instance dispatching persisted schedules to a
// Submitter.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	store   *graphstore.Store
	submit  Submitter
	entries map[string]cron.EntryID
	configs map[string]graphstore.ScheduleConfig
}

// New builds a scheduler that re-submits through submit and persists
// schedule definitions in store.
func New(submit Submitter, store *graphstore.Store) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		store:   store,
		submit:  submit,
		entries: make(map[string]cron.EntryID),
		configs: make(map[string]graphstore.ScheduleConfig),
	}
}

// Start begins the cron loop. Call RestoreSchedules first to reload
// persisted entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the cron loop, waiting up to ctx's deadline for in-flight jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddSchedule registers cfg, persists it, and replaces any existing
// registration for the same graph name.
func (s *Scheduler) AddSchedule(cfg graphstore.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[cfg.GraphName]; ok {
		s.cron.Remove(existing)
		delete(s.entries, cfg.GraphName)
	}

	if s.store != nil {
		if err := s.store.PutSchedule(cfg); err != nil {
			return fmt.Errorf("scheduler: persist schedule: %w", err)
		}
	}
	s.configs[cfg.GraphName] = cfg

	if !cfg.Enabled {
		return nil
	}
	id, err := s.cron.AddFunc(cfg.CronExpr, s.runner(cfg))
	if err != nil {
		return fmt.Errorf("scheduler: add cron entry: %w", err)
	}
	s.entries[cfg.GraphName] = id
	return nil
}

// RemoveSchedule cancels and un-persists the schedule for graphName.
func (s *Scheduler) RemoveSchedule(graphName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[graphName]; ok {
		s.cron.Remove(id)
		delete(s.entries, graphName)
	}
	delete(s.configs, graphName)
	if s.store != nil {
		return s.store.DeleteSchedule(graphName)
	}
	return nil
}

// ListSchedules returns every currently registered schedule config.
func (s *Scheduler) ListSchedules() []graphstore.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]graphstore.ScheduleConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out
}

// RestoreSchedules reloads every persisted schedule from the store and
// re-registers the enabled ones with cron. Call once at startup before
// Start.
func (s *Scheduler) RestoreSchedules() error {
	if s.store == nil {
		return nil
	}
	cfgs, err := s.store.ListSchedules()
	if err != nil {
		return fmt.Errorf("scheduler: list persisted schedules: %w", err)
	}
	for _, cfg := range cfgs {
		s.mu.Lock()
		s.configs[cfg.GraphName] = cfg
		if cfg.Enabled {
			id, err := s.cron.AddFunc(cfg.CronExpr, s.runner(cfg))
			if err != nil {
				slog.Warn("scheduler: skipping invalid persisted schedule", "graph", cfg.GraphName, "error", err)
			} else {
				s.entries[cfg.GraphName] = id
			}
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Scheduler) runner(cfg graphstore.ScheduleConfig) func() {
	return func() {
		start := time.Now()
		traceID, err := s.submit.Submit(cfg.GraphName, cfg.InputTemplate)
		if err != nil {
			slog.Error("scheduled submission failed", "graph", cfg.GraphName, "error", err)
			return
		}
		slog.Info("scheduled submission dispatched", "graph", cfg.GraphName, "trace_id", traceID, "took", time.Since(start))
	}
}
