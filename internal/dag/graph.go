// Package dag builds graphs of named nodes and runs them to completion: a
// sequential topological scheduler invokes each node through the registry's
// wrapper contract, threading a single shared ExecutionState through the
// run.
package dag

import (
	"fmt"

	"github.com/swarmguard/traceflow/internal/node"
)

// Router maps the post-node ExecutionState to one of its declared outcome
// node names. Only predicate routing over state is supported; there is no
// general expression language.
type Router func(state *ExecutionState) (string, error)

type edge struct{ from, to string }

type routerDecl struct {
	from     string
	router   Router
	outcomes []string
}

// Graph is a named set of registered nodes wired by edges, with an entry
// node and optional conditional routers.
type Graph struct {
	Name     string
	Entry    string
	registry *node.Registry

	edges   []edge
	routers map[string]routerDecl
	joins   map[string][]string // node -> upstream names, for join nodes
	nodeSet map[string]bool
}

// NewGraph constructs an empty graph bound to registry; every node name
// used in AddEdge/AddRouter/AddJoin must already be registered in it.
func NewGraph(name, entry string, registry *node.Registry) *Graph {
	return &Graph{
		Name:     name,
		Entry:    entry,
		registry: registry,
		routers:  make(map[string]routerDecl),
		joins:    make(map[string][]string),
		nodeSet:  map[string]bool{entry: true},
	}
}

// AddEdge declares a static successor edge from -> to.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges = append(g.edges, edge{from, to})
	g.nodeSet[from] = true
	g.nodeSet[to] = true
	return g
}

// AddRouter declares that, after from executes, router picks the single
// next node among outcomes. The build-time validator checks every name in
// outcomes is registered (exhaustiveness: every declared outcome must be
// reachable).
func (g *Graph) AddRouter(from string, router Router, outcomes ...string) *Graph {
	g.routers[from] = routerDecl{from: from, router: router, outcomes: outcomes}
	g.nodeSet[from] = true
	for _, o := range outcomes {
		g.nodeSet[o] = true
	}
	return g
}

// AddJoin declares that node name reads its input as a merge of multiple
// upstream outputs, keyed by upstream name under the input's "joined" key,
// instead of a single upstream's output.
func (g *Graph) AddJoin(name string, upstreams ...string) *Graph {
	g.joins[name] = upstreams
	g.nodeSet[name] = true
	for _, u := range upstreams {
		g.nodeSet[u] = true
		g.edges = append(g.edges, edge{u, name})
	}
	return g
}

// ErrCyclicGraph, ErrMissingEntry, ErrUnknownEdgeTarget are the build-time
// error kinds returned by Validate. Orchestrator.RegisterGraph wraps them;
// there is no HTTP path that submits a graph, so they never surface as a
// 400.
type ErrCyclicGraph struct{ Path []string }

func (e *ErrCyclicGraph) Error() string { return fmt.Sprintf("dag: cyclic graph: %v", e.Path) }

type ErrMissingEntry struct{}

func (e *ErrMissingEntry) Error() string { return "dag: no entry node set" }

type ErrUnknownEdgeTarget struct{ Name string }

func (e *ErrUnknownEdgeTarget) Error() string {
	return fmt.Sprintf("dag: edge target %q is not registered", e.Name)
}

// Validate runs the build-time checks: acyclic, every edge target
// registered, exactly one entry node, every declared router outcome
// registered.
func (g *Graph) Validate() error {
	if g.Entry == "" {
		return &ErrMissingEntry{}
	}
	if _, ok := g.registry.Get(g.Entry); !ok {
		return &ErrUnknownEdgeTarget{Name: g.Entry}
	}
	for _, e := range g.edges {
		if _, ok := g.registry.Get(e.to); !ok {
			return &ErrUnknownEdgeTarget{Name: e.to}
		}
		if _, ok := g.registry.Get(e.from); !ok {
			return &ErrUnknownEdgeTarget{Name: e.from}
		}
	}
	for _, rd := range g.routers {
		for _, o := range rd.outcomes {
			if _, ok := g.registry.Get(o); !ok {
				return &ErrUnknownEdgeTarget{Name: o}
			}
		}
	}
	return g.checkAcyclic()
}

func (g *Graph) checkAcyclic() error {
	adj := g.adjacency()
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var path []string

	var visit func(n string) error
	visit = func(n string) error {
		color[n] = gray
		path = append(path, n)
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return &ErrCyclicGraph{Path: append(append([]string{}, path...), next)}
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil
	}

	for n := range g.nodeSet {
		if color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) adjacency() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range g.edges {
		adj[e.from] = append(adj[e.from], e.to)
	}
	for from, rd := range g.routers {
		adj[from] = append(adj[from], rd.outcomes...)
	}
	return adj
}

// successors returns the static out-edges of n, including the edges AddJoin
// adds but not router outcomes, used to build in-degree counts for Kahn's
// algorithm.
func (g *Graph) successors(n string) []string {
	var out []string
	for _, e := range g.edges {
		if e.from == n {
			out = append(out, e.to)
		}
	}
	return out
}

// upstreamsOf returns the nodes whose edges point into n.
func (g *Graph) upstreamsOf(n string) []string {
	var out []string
	for _, e := range g.edges {
		if e.to == n {
			out = append(out, e.from)
		}
	}
	return out
}
