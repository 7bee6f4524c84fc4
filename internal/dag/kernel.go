package dag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/swarmguard/traceflow/internal/node"
	"github.com/swarmguard/traceflow/internal/sink"
	"github.com/swarmguard/traceflow/internal/trace"
)

// ErrMissingUpstream is returned when a node's declared upstream producer
// has not yet written an output.
type ErrMissingUpstream struct{ Node, Upstream string }

func (e *ErrMissingUpstream) Error() string {
	return fmt.Sprintf("dag: node %q missing upstream %q", e.Node, e.Upstream)
}

// ErrDeadlineExceeded surfaces as failure with message "deadline".
type ErrDeadlineExceeded struct{}

func (e *ErrDeadlineExceeded) Error() string { return "deadline" }

// ErrCancelled surfaces as failure with message "cancelled".
type ErrCancelled struct{}

func (e *ErrCancelled) Error() string { return "cancelled" }

// RunOptions bounds a single run's execution.
type RunOptions struct {
	Deadline time.Duration   // 0 = no deadline
	Cancel   <-chan struct{} // closed to request cancellation before the next node
}

// Kernel runs graphs to completion against a shared ExecutionState.
type Kernel struct {
	registry *node.Registry
}

// NewKernel binds a kernel to the registry used to resolve node specs.
func NewKernel(registry *node.Registry) *Kernel {
	return &Kernel{registry: registry}
}

// RunResult is what Run returns once the graph terminates, successfully or
// not.
type RunResult struct {
	Status       trace.Status // last executed node's status; success means completed
	FailedAt     string
	ErrorMessage string
}

// Run executes g against state, recording every node invocation to rec and
// emitting an equivalent event to sinks. It returns once no node remains
// ready (success) or a node fails (abort). opts.Deadline, if set, bounds the
// entire run rather than any single node: it is applied once here so a
// multi-node run can't outlive it node-by-node.
func (k *Kernel) Run(ctx context.Context, g *Graph, state *ExecutionState, rec *trace.Recorder, sinks *sink.Multi, opts RunOptions) (*RunResult, error) {
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}
	if state.IsReplay && len(state.ReplayOrder) > 0 {
		return k.runReplayOrder(ctx, g, state, rec, sinks, opts)
	}
	return k.runScheduled(ctx, g, state, rec, sinks, opts)
}

func (k *Kernel) runScheduled(ctx context.Context, g *Graph, state *ExecutionState, rec *trace.Recorder, sinks *sink.Multi, opts RunOptions) (*RunResult, error) {
	indegree := make(map[string]int)
	for n := range g.nodeSet {
		indegree[n] = len(g.upstreamsOf(n))
	}
	executed := make(map[string]bool)
	ready := []string{g.Entry}

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return k.registry.RegistrationIndex(ready[i]) < k.registry.RegistrationIndex(ready[j])
		})
		cur := ready[0]
		ready = ready[1:]
		if executed[cur] {
			continue
		}

		if res, err := k.checkInterrupt(opts); err != nil {
			return res, err
		}

		execution, runErr := k.executeNode(ctx, g, cur, state, rec, sinks)
		executed[cur] = true
		if runErr != nil {
			return &RunResult{Status: execution.Status, FailedAt: cur, ErrorMessage: execution.ErrorMessage}, runErr
		}

		if rd, isRouter := g.routers[cur]; isRouter {
			next, err := rd.router(state)
			if err != nil {
				return &RunResult{Status: trace.StatusFailure, FailedAt: cur, ErrorMessage: err.Error()}, err
			}
			if next != "" && !executed[next] {
				ready = append(ready, next)
			}
			continue
		}

		for _, succ := range g.successors(cur) {
			indegree[succ]--
			if indegree[succ] <= 0 && !executed[succ] {
				ready = append(ready, succ)
			}
		}
	}

	return &RunResult{Status: trace.StatusSuccess}, nil
}

func (k *Kernel) runReplayOrder(ctx context.Context, g *Graph, state *ExecutionState, rec *trace.Recorder, sinks *sink.Multi, opts RunOptions) (*RunResult, error) {
	for _, cur := range state.ReplayOrder {
		if res, err := k.checkInterrupt(opts); err != nil {
			return res, err
		}
		execution, runErr := k.executeNode(ctx, g, cur, state, rec, sinks)
		if runErr != nil {
			return &RunResult{Status: execution.Status, FailedAt: cur, ErrorMessage: execution.ErrorMessage}, runErr
		}
	}
	return &RunResult{Status: trace.StatusSuccess}, nil
}

func (k *Kernel) checkInterrupt(opts RunOptions) (*RunResult, error) {
	if opts.Cancel != nil {
		select {
		case <-opts.Cancel:
			return &RunResult{Status: trace.StatusFailure, ErrorMessage: "cancelled"}, &ErrCancelled{}
		default:
		}
	}
	return nil, nil
}

// executeNode implements the ten-step wrapper contract: replay
// short-circuit, input resolution, validation, trace_id assignment, input
// hashing, timed invocation, output validation, output hashing, trace
// emission, and node_outputs write. ctx already carries the run-wide
// deadline (see Run); a ctx that has already expired fails this node with
// "deadline" before its body is invoked.
func (k *Kernel) executeNode(ctx context.Context, g *Graph, name string, state *ExecutionState, rec *trace.Recorder, sinks *sink.Multi) (trace.NodeExecution, error) {
	spec, ok := k.registry.Get(name)
	if !ok {
		ne := trace.NodeExecution{NodeName: name, Status: trace.StatusFailure, ErrorMessage: fmt.Sprintf("unregistered node %q", name)}
		return ne, fmt.Errorf("dag: %s", ne.ErrorMessage)
	}

	// Step 1: replay short-circuit.
	if state.IsReplay {
		if stored, exists := state.ReplayMap[name]; exists {
			ne, _ := rec.RecordNode(name, spec.Version, nil, stored, trace.StatusSkippedReplay, 0, "")
			k.emit(ctx, sinks, ne, state)
			state.NodeOutputs.Set(name, stored)
			return ne, nil
		}
	}

	// Step 2: resolve raw input.
	input, err := k.resolveInput(g, spec, state)
	if err != nil {
		ne, _ := rec.RecordNode(name, spec.Version, nil, nil, trace.StatusFailure, 0, err.Error())
		k.emit(ctx, sinks, ne, state)
		return ne, err
	}

	// Step 4: assign trace_id.
	input["trace_id"] = state.TraceID
	input["context_tags"] = toAnySlice(state.ContextTags)

	// Step 3: validate input.
	if spec.InputSchema != nil {
		if err := spec.InputSchema.Validate(input); err != nil {
			ne, _ := rec.RecordNode(name, spec.Version, input, nil, trace.StatusValidationError, 0, err.Error())
			k.emit(ctx, sinks, ne, state)
			return ne, err
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		ne, _ := rec.RecordNode(name, spec.Version, input, nil, trace.StatusFailure, 0, "deadline")
		k.emit(ctx, sinks, ne, state)
		return ne, &ErrDeadlineExceeded{}
	}

	// Steps 6-8: invoke, validate output, attach meta.
	start := time.Now()
	output, bodyErr := k.invoke(ctx, spec, input)
	runtimeMs := float64(time.Since(start).Microseconds()) / 1000.0

	if bodyErr != nil {
		status := trace.StatusFailure
		msg := bodyErr.Error()
		if ctx.Err() == context.DeadlineExceeded {
			msg = "deadline"
		}
		ne, _ := rec.RecordNode(name, spec.Version, input, nil, status, runtimeMs, msg)
		k.emit(ctx, sinks, ne, state)
		return ne, bodyErr
	}

	if output == nil {
		output = map[string]any{}
	}
	output["execution_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	output["node_meta"] = node.Meta{
		NodeName:         spec.Name,
		Version:          spec.Version,
		Tags:             spec.Tags,
		RuntimeTimestamp: time.Now().UTC(),
	}

	if spec.OutputSchema != nil {
		if err := spec.OutputSchema.Validate(output); err != nil {
			ne, _ := rec.RecordNode(name, spec.Version, input, output, trace.StatusValidationError, runtimeMs, err.Error())
			k.emit(ctx, sinks, ne, state)
			return ne, err
		}
	}

	ne, _ := rec.RecordNode(name, spec.Version, input, output, trace.StatusSuccess, runtimeMs, "")
	k.emit(ctx, sinks, ne, state)
	state.NodeOutputs.Set(name, output)
	return ne, nil
}

func (k *Kernel) invoke(ctx context.Context, spec *node.Spec, input map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dag: node %q panicked: %v", spec.Name, r)
		}
	}()
	return spec.Func(ctx, input)
}

func (k *Kernel) resolveInput(g *Graph, spec *node.Spec, state *ExecutionState) (map[string]any, error) {
	if spec.Name == g.Entry {
		input := make(map[string]any, len(state.InitialInput)+2)
		for kk, v := range state.InitialInput {
			input[kk] = v
		}
		return input, nil
	}
	upstreams, isJoin := g.joins[spec.Name]
	if !isJoin && len(spec.JoinInputs) > 0 {
		upstreams, isJoin = spec.JoinInputs, true
	}
	if isJoin {
		merged := make(map[string]any, len(upstreams)+2)
		joined := make(map[string]any, len(upstreams))
		for _, up := range upstreams {
			out, ok := state.NodeOutputs.Get(up)
			if !ok {
				return nil, &ErrMissingUpstream{Node: spec.Name, Upstream: up}
			}
			joined[up] = out
		}
		merged["joined"] = joined
		return merged, nil
	}
	upstream := spec.InputNode
	if upstream == "" {
		ups := g.upstreamsOf(spec.Name)
		if len(ups) == 1 {
			upstream = ups[0]
		}
	}
	if upstream == "" {
		return nil, &ErrMissingUpstream{Node: spec.Name, Upstream: "(none declared)"}
	}
	out, ok := state.NodeOutputs.Get(upstream)
	if !ok {
		return nil, &ErrMissingUpstream{Node: spec.Name, Upstream: upstream}
	}
	input := make(map[string]any, len(out)+2)
	for kk, v := range out {
		input[kk] = v
	}
	return input, nil
}

func (k *Kernel) emit(ctx context.Context, sinks *sink.Multi, ne trace.NodeExecution, state *ExecutionState) {
	if sinks == nil {
		return
	}
	sinks.Write(ctx, trace.Event{
		TraceID:      state.TraceID,
		NodeName:     ne.NodeName,
		Version:      ne.Version,
		Status:       ne.Status,
		Timestamp:    ne.Timestamp,
		RuntimeMs:    ne.RuntimeMs,
		InputHash:    ne.InputHash,
		OutputHash:   ne.OutputHash,
		ErrorMessage: ne.ErrorMessage,
		Tags:         state.ContextTags,
	})
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
