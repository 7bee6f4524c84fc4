// Package node holds the registry of named, versioned node implementations
// and the typed schema contract each one must satisfy.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swarmguard/traceflow/internal/schema"
)

// Func is the shape every node body implements: a pure function from a
// validated input document to an output document. The kernel does not
// distinguish LLM-backed nodes from plain computation.
type Func func(ctx context.Context, input map[string]any) (map[string]any, error)

// Spec is a registration record, immutable once registered.
type Spec struct {
	Name         string
	Version      string
	Tags         []string
	InputSchema  *schema.Schema
	OutputSchema *schema.Schema
	// InputNode names the single upstream node this node reads its input
	// from. Empty for the graph's entry node. JoinInputs, if non-empty and
	// the graph declares no AddJoin for this node, names multiple upstreams
	// whose outputs are merged into a {upstream: output} mapping under the
	// input's "joined" key instead.
	InputNode  string
	JoinInputs []string
	Func       Func
}

// Meta is attached to every node output under the "node_meta" key.
type Meta struct {
	NodeName         string    `json:"node_name"`
	Version          string    `json:"version"`
	Tags             []string  `json:"tags,omitempty"`
	ReplayTraceID    string    `json:"replay_trace_id,omitempty"`
	RuntimeTimestamp time.Time `json:"runtime_timestamp"`
}

// ErrAlreadyRegistered is returned by Register on a duplicate name.
type ErrAlreadyRegistered struct{ Name string }

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("node: %q already registered", e.Name)
}

// Registry holds node specs by name. Read-mostly after startup: lookups
// take a shared lock, registration takes an exclusive one.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
	order []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds spec under its name. Fails if the name is already taken.
func (r *Registry) Register(spec *Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("node: spec name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return &ErrAlreadyRegistered{Name: spec.Name}
	}
	r.specs[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// Get looks up a spec by name.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all registered node names in registration order, used both
// for the /nodes endpoint and as the scheduler's tie-break order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RegistrationIndex returns the position at which name was registered, used
// to break scheduling ties deterministically. Returns -1 if unregistered.
func (r *Registry) RegistrationIndex(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}
