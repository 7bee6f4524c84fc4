package orchestrator

import (
	"sync"
	"time"
)

// CancellationManager tracks cancel channels for in-flight runs so a
// cancel request can be observed by the kernel between node invocations.
type CancellationManager struct {
	mu      sync.Mutex
	signals map[string]chan struct{}
	started map[string]time.Time
}

// NewCancellationManager constructs an empty manager.
func NewCancellationManager() *CancellationManager {
	return &CancellationManager{
		signals: make(map[string]chan struct{}),
		started: make(map[string]time.Time),
	}
}

// Register allocates a cancel channel for traceID, to be passed to the
// kernel as RunOptions.Cancel.
func (c *CancellationManager) Register(traceID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.signals[traceID] = ch
	c.started[traceID] = time.Now()
	return ch
}

// Cancel closes traceID's channel if still registered. Reports whether a
// registered run was found.
func (c *CancellationManager) Cancel(traceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.signals[traceID]
	if !ok {
		return false
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	return true
}

// Get returns the cancel channel registered for traceID, if any.
func (c *CancellationManager) Get(traceID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signals[traceID]
}

// Complete removes bookkeeping for a finished run.
func (c *CancellationManager) Complete(traceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.signals, traceID)
	delete(c.started, traceID)
}
