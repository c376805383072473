// Package kgraph provides a small directed graph used to order work over the
// dependency graph of a dataverse runtime.
//
// Nodes are identified by any ordered key. Iteration is deterministic: nodes
// keep insertion order and Kahn's algorithm breaks ties by key, so two runs
// over the same edges always produce the same order.
//
//	g := kgraph.NewGraph[uint64]()
//	g.EnsureNode(1, "atom#1")
//	g.EnsureNode(2, "derivation#2")
//	_ = g.AddEdge(1, 2)
//	order, err := g.TopologicalSort() // [1 2]
//
// Cycles are reported with ErrCycleDetected and the offending path:
//
//	if errors.Is(err, kgraph.ErrCycleDetected) {
//	    // err.Error() == "cycle detected in graph: a -> b -> a"
//	}
//
// Graph is NOT safe for concurrent use.
package kgraph
