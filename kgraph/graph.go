package kgraph

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

// Node is a vertex of the graph. Label is only used for diagnostics.
type Node[K constraints.Ordered] struct {
	ID    K
	Label string

	// Parent edges (incoming)
	Parents []K

	// Child edges (outgoing)
	Children []K
}

// Graph is a directed graph with deterministic iteration order.
//
// IMPORTANT: Graph is NOT safe for concurrent use.
type Graph[K constraints.Ordered] struct {
	Nodes map[K]*Node[K]

	// Deterministic node ordering (insertion order)
	NodeOrder []K

	edges map[edge[K]]struct{}
}

type edge[K constraints.Ordered] struct {
	from, to K
}

// NewGraph creates a new empty graph.
func NewGraph[K constraints.Ordered]() *Graph[K] {
	return &Graph[K]{
		Nodes:     make(map[K]*Node[K]),
		NodeOrder: make([]K, 0),
		edges:     make(map[edge[K]]struct{}),
	}
}

// AddNode adds a node to the graph.
func (g *Graph[K]) AddNode(id K, label string) error {
	if _, exists := g.Nodes[id]; exists {
		return fmt.Errorf("%w: %v", ErrNodeAlreadyExists, id)
	}
	g.Nodes[id] = &Node[K]{ID: id, Label: label}
	g.NodeOrder = append(g.NodeOrder, id)
	return nil
}

// EnsureNode returns the node with the given ID, adding it first if needed.
// The second return value reports whether the node was added.
func (g *Graph[K]) EnsureNode(id K, label string) (*Node[K], bool) {
	if node, ok := g.Nodes[id]; ok {
		return node, false
	}
	node := &Node[K]{ID: id, Label: label}
	g.Nodes[id] = node
	g.NodeOrder = append(g.NodeOrder, id)
	return node, true
}

// AddEdge adds a directed edge from parent to child. Adding an existing
// edge again is a no-op.
func (g *Graph[K]) AddEdge(parentID, childID K) error {
	parent, ok := g.Nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %v", ErrNodeNotFound, parentID)
	}
	child, ok := g.Nodes[childID]
	if !ok {
		return fmt.Errorf("%w: child %v", ErrNodeNotFound, childID)
	}

	e := edge[K]{from: parentID, to: childID}
	if _, exists := g.edges[e]; exists {
		return nil
	}
	g.edges[e] = struct{}{}

	parent.Children = append(parent.Children, childID)
	child.Parents = append(child.Parents, parentID)
	return nil
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int {
	return len(g.Nodes)
}

// label returns the diagnostic name of a node, falling back to its ID.
func (g *Graph[K]) label(id K) string {
	if node, ok := g.Nodes[id]; ok && node.Label != "" {
		return node.Label
	}
	return fmt.Sprint(id)
}

// Sentinel errors for common failure cases.
var (
	ErrNodeAlreadyExists = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrCycleDetected     = errors.New("cycle detected in graph")
)
