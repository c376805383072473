// Package dataverse is a reactive dataflow engine: mutable atoms, lazily
// computed derivations over them, pointers addressing paths inside atoms
// and derivations, and prisms that memoise consumer computations.
//
// Writes push invalidation, reads pull recomputation:
//
//	rt := dataverse.NewRuntime()
//	state := rt.RecordAtom(map[string]any{"count": 0})
//	double := rt.Map(func(tr *dataverse.Tracker) (any, error) {
//	    n, err := dataverse.Val[int](tr, state.Pointer().Field("count"))
//	    return n * 2, err
//	})
//	state.Set(map[string]any{"count": 5})
//	v, _ := dataverse.Resolve(double) // 10
//
// Setting an atom marks its dependents Dirty, in dependency order, once per
// batch. Nothing recomputes until it is read. Container atoms diff written
// values against their children, so a write only invalidates what depends
// on the paths that actually changed.
//
// Every operation of a Runtime, and of the nodes it created, must happen on
// a single goroutine.
package dataverse
