package dataverse

import (
	"github.com/jo-chemla/theatre/kgraph"
)

// Batch runs fn and coalesces every atom write made inside it into a single
// invalidation pass that runs when the outermost batch returns. Values are
// written immediately and reads inside the batch see them: while writes are
// unflushed, derivations re-validate their dependency versions instead of
// trusting their Clean mark. Dependents are marked Dirty, and prisms
// notified, only when the batch ends.
//
// Batches nest; only the outermost one flushes.
func (rt *Runtime) Batch(fn func()) {
	rt.batchDepth++
	defer func() {
		rt.batchDepth--
		if rt.batchDepth == 0 && !rt.flushing && !rt.Computing() {
			rt.flush()
		}
	}()

	fn()
}

// AfterBatch schedules fn to run once the current batch has been flushed.
// Outside of a batch and of any computation fn runs immediately.
func (rt *Runtime) AfterBatch(fn func()) {
	if rt.batchDepth == 0 && !rt.flushing && !rt.Computing() {
		fn()
		return
	}
	rt.afterBatch = append(rt.afterBatch, fn)
}

// Batching reports whether a batch is open or being flushed.
func (rt *Runtime) Batching() bool {
	return rt.batchDepth > 0 || rt.flushing
}

func (rt *Runtime) markChanged(a *Atom) {
	if _, ok := rt.changed[a.nid]; ok {
		return
	}
	rt.changed[a.nid] = a
	rt.changedOrder = append(rt.changedOrder, a)
}

// markStale queues subscribers of a source whose version moved without an
// atom write, such as a prism re-run with a new dependency key. The next
// flush invalidates them and everything downstream. Subscribers computing
// right now are skipped: they already read the new version.
func (rt *Runtime) markStale(subs []subscriber) {
	for _, s := range subs {
		if !rt.running(s.id()) {
			rt.stale = append(rt.stale, s)
		}
	}
}

// unflushed reports whether some source changed since the last flush, so
// Clean marks may be out of date.
func (rt *Runtime) unflushed() bool {
	return len(rt.changedOrder) > 0 || len(rt.stale) > 0
}

func (rt *Runtime) scheduleNotify(p *Prism) {
	rt.notify = append(rt.notify, p)
}

// flush invalidates the dependents of every atom changed during the batch,
// then runs prism notifications and after-batch callbacks. Writes made by
// those callbacks are collected into another pass.
func (rt *Runtime) flush() {
	rt.flushing = true
	defer func() {
		rt.flushing = false
	}()

	for pass := 0; rt.pending(); pass++ {
		if pass >= rt.maxFlushPasses {
			rt.log.Error(ErrFlushLimit, "Dropping pending work", "passes", pass,
				"changed", len(rt.changedOrder), "callbacks", len(rt.afterBatch))
			rt.changed = map[NodeID]*Atom{}
			rt.changedOrder = nil
			rt.stale = nil
			rt.notify = nil
			rt.afterBatch = nil
			rt.deferred = nil
			return
		}

		if writes := rt.deferred; len(writes) > 0 {
			rt.deferred = nil
			rt.batchDepth++
			for _, write := range writes {
				write()
			}
			rt.batchDepth--
		}

		changed := rt.changedOrder
		rt.changed = map[NodeID]*Atom{}
		rt.changedOrder = nil
		stale := rt.stale
		rt.stale = nil

		invalidated := rt.invalidate(changed, stale)
		rt.observer.Flushed(len(changed), invalidated)
		rt.log.V(2).Info("Flushed batch", "pass", pass, "changed", len(changed), "invalidated", invalidated)

		notify := rt.notify
		rt.notify = nil
		callbacks := rt.afterBatch
		rt.afterBatch = nil

		rt.batchDepth++
		for _, p := range notify {
			p.fireInvalidate()
		}
		for _, fn := range callbacks {
			fn()
		}
		rt.batchDepth--
	}
}

func (rt *Runtime) pending() bool {
	return rt.unflushed() || len(rt.notify) > 0 || len(rt.afterBatch) > 0 || len(rt.deferred) > 0
}

// invalidate marks every transitive dependent of the changed atoms, and the
// stale subscribers with their own dependents, Dirty. Nodes are visited in
// topological order, so a node is marked only after all of its own
// dependencies inside the affected subgraph.
func (rt *Runtime) invalidate(changed []*Atom, stale []subscriber) int {
	if len(changed) == 0 && len(stale) == 0 {
		return 0
	}

	g := kgraph.NewGraph[NodeID]()
	subs := map[NodeID]subscriber{}
	bfs := make([]subscriber, 0)

	var visit func(from NodeID, dependents []subscriber)
	visit = func(from NodeID, dependents []subscriber) {
		for _, s := range dependents {
			if _, added := g.EnsureNode(s.id(), s.label()); added {
				subs[s.id()] = s
				bfs = append(bfs, s)
			}
			// Both ends exist at this point.
			_ = g.AddEdge(from, s.id())
		}
	}

	for _, a := range changed {
		g.EnsureNode(a.nid, a.name)
	}
	for _, a := range changed {
		visit(a.nid, a.dependents())
	}
	for _, s := range stale {
		if _, added := g.EnsureNode(s.id(), s.label()); added {
			subs[s.id()] = s
			bfs = append(bfs, s)
		}
	}
	for i := 0; i < len(bfs); i++ {
		if src, ok := bfs[i].(interface{ dependents() []subscriber }); ok {
			visit(bfs[i].id(), src.dependents())
		}
	}

	order, err := g.TopologicalSort()
	if err != nil {
		rt.log.Error(err, "Falling back to breadth-first invalidation")
		order = order[:0]
		for _, s := range bfs {
			order = append(order, s.id())
		}
	}

	n := 0
	for _, id := range order {
		if s, ok := subs[id]; ok {
			s.invalidate()
			n++
		}
	}
	return n
}
