package graph

import (
	"fmt"
	"sort"
)

// NodeKind classifies a resource node.
type NodeKind string

const (
	KindFunction     NodeKind = "compute-fn"
	KindTable        NodeKind = "doc-table"
	KindRouteSet     NodeKind = "http-route-set"
	KindQueue        NodeKind = "queue"
	KindBucket       NodeKind = "object-bucket"
	KindTopic        NodeKind = "pubsub-topic"
	KindEventBus     NodeKind = "event-bus"
	KindWorkflow     NodeKind = "workflow"
	KindContainerSvc NodeKind = "container-service"
)

// EdgeKind classifies a relationship between two resources.
type EdgeKind string

const (
	EdgeTrigger     EdgeKind = "trigger"
	EdgeDataDep     EdgeKind = "data-dependency"
	EdgePermission  EdgeKind = "permission"
	EdgeEventSource EdgeKind = "event-source"
)

// Node is one resource in the dependency graph.
type Node struct {
	ID     string
	Kind   NodeKind
	Config map[string]string
}

// Edge is a directed relationship source → target.
type Edge struct {
	Source   string
	Target   string
	Kind     EdgeKind
	Metadata map[string]string
}

// Graph is a directed graph of deployment resources. For data-dependency
// edges, source depends on target: the target must start first.
type Graph struct {
	nodes map[string]*Node
	edges []Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts a node. Duplicate ids fail.
func (g *Graph) AddNode(n *Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("duplicate node: %s", n.ID)
	}
	g.nodes[n.ID] = n
	return nil
}

// AddEdge inserts an edge. Self-loops and edges to unknown nodes fail.
func (g *Graph) AddEdge(e Edge) error {
	if e.Source == e.Target {
		return fmt.Errorf("self-loop on node %s", e.Source)
	}
	if _, ok := g.nodes[e.Source]; !ok {
		return fmt.Errorf("edge source not in graph: %s", e.Source)
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return fmt.Errorf("edge target not in graph: %s", e.Target)
	}
	g.edges = append(g.edges, e)
	return nil
}

// Node returns a node by id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all node ids, sorted.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns a copy of all edges.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// DependenciesOf returns the ids this node depends on (its out-neighbours
// along data-dependency edges), sorted.
func (g *Graph) DependenciesOf(id string) []string {
	var deps []string
	for _, e := range g.edges {
		if e.Kind == EdgeDataDep && e.Source == id {
			deps = append(deps, e.Target)
		}
	}
	sort.Strings(deps)
	return deps
}

// DependentsOf returns the ids that depend on this node, sorted.
func (g *Graph) DependentsOf(id string) []string {
	var deps []string
	for _, e := range g.edges {
		if e.Kind == EdgeDataDep && e.Target == id {
			deps = append(deps, e.Source)
		}
	}
	sort.Strings(deps)
	return deps
}

// TopologicalSort orders nodes so that every data-dependency target comes
// before its source (dependencies first). Kahn's algorithm; ties broken by
// node id for determinism. For a cyclic graph the result is a prefix
// covering only the acyclic portion.
func (g *Graph) TopologicalSort() []string {
	// out-degree along data-dependency edges; a node with zero remaining
	// dependencies is ready.
	remaining := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for id := range g.nodes {
		remaining[id] = 0
	}
	for _, e := range g.edges {
		if e.Kind != EdgeDataDep {
			continue
		}
		remaining[e.Source]++
		dependents[e.Target] = append(dependents[e.Target], e.Source)
	}

	var ready []string
	for id, deg := range remaining {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := false
		for _, dep := range dependents[id] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}
	return order
}

// DetectCycles finds all directed cycles along data-dependency edges using
// DFS with tri-colour marking. Each cycle is returned as the node ids on
// it, starting from the first node revisited.
func (g *Graph) DetectCycles() [][]string {
	const (
		white = iota // unvisited
		grey         // on stack
		black        // done
	)

	colour := make(map[string]int, len(g.nodes))
	adj := make(map[string][]string)
	for _, e := range g.edges {
		if e.Kind == EdgeDataDep {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}
	for _, targets := range adj {
		sort.Strings(targets)
	}

	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		colour[id] = grey
		stack = append(stack, id)

		for _, next := range adj[id] {
			switch colour[next] {
			case white:
				visit(next)
			case grey:
				// back-edge: the cycle is the stack slice from next onward
				for i, on := range stack {
					if on == next {
						cycle := make([]string, len(stack)-i)
						copy(cycle, stack[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		colour[id] = black
	}

	for _, id := range g.Nodes() {
		if colour[id] == white {
			visit(id)
		}
	}
	return cycles
}
