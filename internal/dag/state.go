package dag

// ExecutionState is the shared, per-run structure threaded through the
// kernel. It is owned by exactly one worker for the lifetime of a run: the
// sequential scheduler never hands it to two goroutines at once.
type ExecutionState struct {
	InitialInput map[string]any
	ContextTags  []string

	// NodeOutputs maps node name to its most recent output for this run.
	// order preserves insertion order for deterministic iteration during
	// replay and for building join-node inputs.
	NodeOutputs *OrderedOutputs

	TraceID string

	IsReplay bool
	// ReplayMap maps node name to its stored output from the original run.
	ReplayMap map[string]map[string]any
	// ReplayOrder is the original run's executed_nodes order; non-replay
	// runs leave it nil and the kernel computes order live via the
	// topological scheduler.
	ReplayOrder []string
}

// NewExecutionState constructs a fresh, non-replay state.
func NewExecutionState(traceID string, initialInput map[string]any, contextTags []string) *ExecutionState {
	return &ExecutionState{
		InitialInput: initialInput,
		ContextTags:  contextTags,
		NodeOutputs:  NewOrderedOutputs(),
		TraceID:      traceID,
	}
}

// OrderedOutputs is an insertion-ordered map[string]map[string]any.
type OrderedOutputs struct {
	keys []string
	m    map[string]map[string]any
}

// NewOrderedOutputs constructs an empty ordered output map.
func NewOrderedOutputs() *OrderedOutputs {
	return &OrderedOutputs{m: make(map[string]map[string]any)}
}

// Set writes node n's output, recording insertion order on first write. A
// node must be written at most once per run; callers enforce that via the
// kernel's scheduling invariant.
func (o *OrderedOutputs) Set(n string, v map[string]any) {
	if _, exists := o.m[n]; !exists {
		o.keys = append(o.keys, n)
	}
	o.m[n] = v
}

// Get returns n's output and whether it has been written yet.
func (o *OrderedOutputs) Get(n string) (map[string]any, bool) {
	v, ok := o.m[n]
	return v, ok
}

// Keys returns node names in insertion order.
func (o *OrderedOutputs) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Snapshot returns a shallow copy of the full node_outputs map, used as the
// run result (TaskResult.dag_output).
func (o *OrderedOutputs) Snapshot() map[string]map[string]any {
	out := make(map[string]map[string]any, len(o.m))
	for k, v := range o.m {
		out[k] = v
	}
	return out
}
