// Package graph builds a validated, acyclic execution graph from a workflow
// definition. Nodes live in an arena indexed by dense integer ids with a
// separate edge list, which keeps topological sorting cheap and avoids
// pointer cycles.
package graph

import (
	"errors"
	"fmt"

	"github.com/weftlabs/weft/pkg/models"
)

var (
	ErrEmptyGraph      = errors.New("workflow graph has no nodes")
	ErrDuplicateNode   = errors.New("duplicate node id")
	ErrUnknownEdgeNode = errors.New("edge references unknown node id")
	ErrCycleDetected   = errors.New("workflow graph contains a cycle")
	ErrSelfEdge        = errors.New("edge connects a node to itself")
)

// Graph is the validated arena representation of one workflow version.
type Graph struct {
	nodes   []*models.Node // arena, indexed by integer node id
	index   map[string]int // workflow node id -> arena index
	out     [][]int        // adjacency by arena index
	in      [][]int
	edges   []*models.Edge
	edgeOut [][]int // outgoing edge indexes per node
	edgeIn  [][]int // incoming edge indexes per node
	order   []int   // topological order, computed at build time
}

// Build validates the node and edge lists and returns the execution graph.
// Cyclic graphs are rejected here, at save time, never at execution time.
func Build(nodes []*models.Node, edges []*models.Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	g := &Graph{
		nodes:   make([]*models.Node, len(nodes)),
		index:   make(map[string]int, len(nodes)),
		out:     make([][]int, len(nodes)),
		in:      make([][]int, len(nodes)),
		edges:   edges,
		edgeOut: make([][]int, len(nodes)),
		edgeIn:  make([][]int, len(nodes)),
	}

	for i, node := range nodes {
		if _, exists := g.index[node.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, node.ID)
		}

		g.nodes[i] = node
		g.index[node.ID] = i
	}

	for ei, edge := range edges {
		from, ok := g.index[edge.From]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEdgeNode, edge.From)
		}

		to, ok := g.index[edge.To]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEdgeNode, edge.To)
		}

		if from == to {
			return nil, fmt.Errorf("%w: %q", ErrSelfEdge, edge.From)
		}

		g.out[from] = append(g.out[from], to)
		g.in[to] = append(g.in[to], from)
		g.edgeOut[from] = append(g.edgeOut[from], ei)
		g.edgeIn[to] = append(g.edgeIn[to], ei)
	}

	order, err := g.topologicalOrder()
	if err != nil {
		return nil, err
	}

	g.order = order

	return g, nil
}

// topologicalOrder runs Kahn's algorithm. Leftover nodes mean a cycle.
func (g *Graph) topologicalOrder() ([]int, error) {
	inDegree := make([]int, len(g.nodes))
	for _, targets := range g.out {
		for _, to := range targets {
			inDegree[to]++
		}
	}

	queue := make([]int, 0, len(g.nodes))

	for i := range g.nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(g.nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, next := range g.out[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.nodes) {
		remaining := make([]string, 0)

		for i, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, g.nodes[i].ID)
			}
		}

		return nil, fmt.Errorf("%w: involving nodes %v", ErrCycleDetected, remaining)
	}

	return order, nil
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node at the given arena index.
func (g *Graph) Node(i int) *models.Node {
	return g.nodes[i]
}

// Index resolves a workflow node id to its arena index.
func (g *Graph) Index(nodeID string) (int, bool) {
	i, ok := g.index[nodeID]

	return i, ok
}

// Order returns arena indexes in topological order.
func (g *Graph) Order() []int {
	return g.order
}

// Successors returns arena indexes reachable over one outgoing edge.
func (g *Graph) Successors(i int) []int {
	return g.out[i]
}

// Predecessors returns arena indexes with an edge into node i.
func (g *Graph) Predecessors(i int) []int {
	return g.in[i]
}

// InboundEdges returns the edges terminating at node i.
func (g *Graph) InboundEdges(i int) []*models.Edge {
	edges := make([]*models.Edge, 0, len(g.edgeIn[i]))
	for _, ei := range g.edgeIn[i] {
		edges = append(edges, g.edges[ei])
	}

	return edges
}

// Roots returns arena indexes with no inbound edges.
func (g *Graph) Roots() []int {
	roots := make([]int, 0)

	for i := range g.nodes {
		if len(g.in[i]) == 0 {
			roots = append(roots, i)
		}
	}

	return roots
}
