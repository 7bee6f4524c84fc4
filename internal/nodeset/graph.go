package nodeset

import (
	"github.com/swarmguard/traceflow/internal/dag"
	"github.com/swarmguard/traceflow/internal/node"
)

// DefaultGraphName is the task_name clients submit to run the reference
// retriever -> llm -> executor chain.
const DefaultGraphName = "default"

// BuildDefaultGraph wires the three built-in nodes into the linear chain
// the reference implementation exercises.
func BuildDefaultGraph(registry *node.Registry) *dag.Graph {
	g := dag.NewGraph(DefaultGraphName, "retriever", registry)
	g.AddEdge("retriever", "llm")
	g.AddEdge("llm", "executor")
	return g
}
