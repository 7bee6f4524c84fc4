// Package orchestrator is the control plane: it allocates trace ids,
// dispatches runs to a bounded worker pool, and answers status/result/
// replay/nodes queries against the process-wide TaskTable.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/traceflow/internal/dag"
	"github.com/swarmguard/traceflow/internal/node"
	"github.com/swarmguard/traceflow/internal/sink"
	"github.com/swarmguard/traceflow/internal/trace"
)

// ErrGraphNotFound is surfaced when a submission names an unregistered
// graph.
var ErrGraphNotFound = errors.New("orchestrator: graph not found")

// Config controls worker pool sizing and run-wide defaults.
type Config struct {
	WorkerPoolSize int
	QueueSize      int
	RunDeadline    time.Duration
	CaptureIO      bool
	TraceDir       string
}

type job struct {
	traceID       string
	graphName     string
	initialInput  map[string]any
	contextTags   []string
	isReplay      bool
	replayMap     map[string]map[string]any
	replayOrder   []string
	sourceTraceID string
}

// Orchestrator is the control plane: registry + graphs + kernel + sinks +
// task table + a bounded background worker pool.
type Orchestrator struct {
	cfg      Config
	registry *node.Registry
	kernel   *dag.Kernel
	sinks    *sink.Multi
	db       *sql.DB
	tasks    *TaskTable
	cancels  *CancellationManager

	mu     sync.RWMutex
	graphs map[string]*dag.Graph

	queue  chan job
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs an orchestrator bound to registry and sinks, with an empty
// graph set (see RegisterGraph).
func New(cfg Config, registry *node.Registry, db *sql.DB, sinks *sink.Multi) *Orchestrator {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		kernel:   dag.NewKernel(registry),
		sinks:    sinks,
		db:       db,
		tasks:    NewTaskTable(),
		cancels:  NewCancellationManager(),
		graphs:   make(map[string]*dag.Graph),
		queue:    make(chan job, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// RegisterGraph adds g under its name, available to future submissions.
// Every graph must pass Validate before being registered; an invalid graph
// is rejected with the wrapped validation error.
func (o *Orchestrator) RegisterGraph(g *dag.Graph) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("orchestrator: invalid graph %q: %w", g.Name, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.graphs[g.Name] = g
	return nil
}

// Start launches the background worker pool.
func (o *Orchestrator) Start() {
	for i := 0; i < o.cfg.WorkerPoolSize; i++ {
		o.wg.Add(1)
		go o.worker()
	}
}

// Stop signals workers to drain the queue and exit, waiting up to ctx's
// deadline.
func (o *Orchestrator) Stop(ctx context.Context) error {
	close(o.stopCh)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			for {
				select {
				case j, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(j)
				default:
					return
				}
			}
		case j, ok := <-o.queue:
			if !ok {
				return
			}
			o.run(j)
		}
	}
}

// Submit allocates a trace id, inserts a running TaskResult, and enqueues
// the run. It satisfies scheduler.Submitter.
func (o *Orchestrator) Submit(graphName string, input map[string]any) (string, error) {
	return o.submit(graphName, input, nil, false, nil, nil, "")
}

func (o *Orchestrator) submit(graphName string, input map[string]any, contextTags []string, isReplay bool, replayMap map[string]map[string]any, replayOrder []string, sourceTraceID string) (string, error) {
	traceID := uuid.NewString()
	o.tasks.Insert(&TaskResult{TraceID: traceID, Status: StatusRunning})
	o.cancels.Register(traceID)

	j := job{
		traceID:       traceID,
		graphName:     graphName,
		initialInput:  input,
		contextTags:   contextTags,
		isReplay:      isReplay,
		replayMap:     replayMap,
		replayOrder:   replayOrder,
		sourceTraceID: sourceTraceID,
	}
	select {
	case o.queue <- j:
	default:
		o.queue <- j // blocks once full, per the queue-full-blocks-enqueue contract
	}
	return traceID, nil
}

// Cancel requests that traceID's run stop before its next node.
func (o *Orchestrator) Cancel(traceID string) bool {
	return o.cancels.Cancel(traceID)
}

// Status looks up a run's status, returning "unknown" for unrecognized ids.
func (o *Orchestrator) Status(traceID string) TaskResult {
	tr, ok := o.tasks.Get(traceID)
	if !ok {
		return TaskResult{TraceID: traceID, Status: StatusUnknown}
	}
	return tr
}

// NodeNames returns the registry's current node names.
func (o *Orchestrator) NodeNames() []string {
	return o.registry.Names()
}

// Replay loads the original trace, allocates a new trace id, and enqueues
// a short-circuited re-run carrying the stored per-node outputs.
func (o *Orchestrator) Replay(originalTraceID string) (string, error) {
	rec, err := trace.Load(o.cfg.TraceDir, o.db, originalTraceID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: %w", trace.ErrNotFound)
	}

	o.mu.RLock()
	g, ok := o.graphs[rec.TaskName]
	o.mu.RUnlock()
	if !ok {
		return "", ErrGraphNotFound
	}

	replayMap := make(map[string]map[string]any, len(rec.ExecutedNodes))
	order := make([]string, 0, len(rec.ExecutedNodes))
	for _, ne := range rec.ExecutedNodes {
		order = append(order, ne.NodeName)
		if ne.Output != nil {
			replayMap[ne.NodeName] = ne.Output
		}
	}

	var initialInput map[string]any
	if len(rec.ExecutedNodes) > 0 {
		initialInput = rec.ExecutedNodes[0].Input
	}

	_ = g // graph presence already validated; entry input comes from the stored trace
	return o.submit(rec.TaskName, initialInput, nil, true, replayMap, order, originalTraceID)
}

func (o *Orchestrator) run(j job) {
	o.mu.RLock()
	g, ok := o.graphs[j.graphName]
	o.mu.RUnlock()

	rec := trace.NewRecorder(o.cfg.TraceDir, o.db, o.cfg.CaptureIO)
	if _, err := rec.InitTrace(j.graphName, j.traceID); err != nil {
		o.fail(j.traceID, err.Error())
		return
	}
	if j.isReplay {
		rec.SetReplayInfo(j.sourceTraceID, j.replayOrder)
	}

	defer o.cancels.Complete(j.traceID)

	if !ok {
		o.finalizeFailed(rec, j.traceID, fmt.Sprintf("task not found: %s", j.graphName))
		return
	}

	state := dag.NewExecutionState(j.traceID, j.initialInput, j.contextTags)
	state.IsReplay = j.isReplay
	state.ReplayMap = j.replayMap
	state.ReplayOrder = j.replayOrder

	opts := dag.RunOptions{Deadline: o.cfg.RunDeadline, Cancel: o.cancels.Get(j.traceID)}

	ctx := context.Background()
	_, runErr := o.kernel.Run(ctx, g, state, rec, o.sinks, opts)
	finalRec, finErr := rec.Finalize()
	if finErr != nil {
		slog.Error("trace finalize failed", "trace_id", j.traceID, "error", finErr)
	}

	if runErr != nil {
		o.tasks.Update(j.traceID, func(tr *TaskResult) {
			tr.Status = StatusFailed
			tr.Error = runErr.Error()
		})
		return
	}
	_ = finalRec
	o.tasks.Update(j.traceID, func(tr *TaskResult) {
		tr.Status = StatusCompleted
		tr.DAGOutput = state.NodeOutputs.Snapshot()
	})
}

func (o *Orchestrator) finalizeFailed(rec *trace.Recorder, traceID, message string) {
	if _, err := rec.Finalize(); err != nil {
		slog.Error("trace finalize failed", "trace_id", traceID, "error", err)
	}
	o.fail(traceID, message)
}

func (o *Orchestrator) fail(traceID, message string) {
	o.tasks.Update(traceID, func(tr *TaskResult) {
		tr.Status = StatusFailed
		tr.Error = message
	})
}
