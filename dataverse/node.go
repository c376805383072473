package dataverse

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Readable is anything whose value can be read, optionally recording the
// read into a Tracker. A nil tracker means an untracked read.
type Readable interface {
	Read(tr *Tracker) (any, error)
}

// source is a node other nodes can depend on.
type source interface {
	id() NodeID
	label() string
	// refresh brings the node up to date and returns its current version.
	refresh() (uint64, error)
	addDependent(s subscriber)
	removeDependent(s subscriber)
}

// subscriber is a node that depends on sources and is marked Dirty by the
// ticker when one of them changes.
type subscriber interface {
	id() NodeID
	label() string
	invalidate()
}

// node holds what every graph node shares: identity and its dependents.
type node struct {
	rt   *Runtime
	nid  NodeID
	name string
	subs map[NodeID]subscriber
}

func (n *node) id() NodeID { return n.nid }
func (n *node) label() string { return n.name }
func (n *node) ID() NodeID { return n.nid }
func (n *node) Name() string { return n.name }
func (n *node) runtime() *Runtime { return n.rt }

// DependentCount returns the number of nodes currently subscribed to this
// node.
func (n *node) DependentCount() int {
	return len(n.subs)
}

// dependents returns the subscribers ordered by ID.
func (n *node) dependents() []subscriber {
	ids := maps.Keys(n.subs)
	slices.Sort(ids)
	out := make([]subscriber, len(ids))
	for i, id := range ids {
		out[i] = n.subs[id]
	}
	return out
}

// dependency is a source together with the version observed when it was
// read.
type dependency struct {
	src     source
	version uint64
}

// Dependency describes a recorded dependency of a computation.
type Dependency struct {
	ID      NodeID
	Name    string
	Version uint64
}

func describe(deps []dependency) []Dependency {
	out := make([]Dependency, len(deps))
	for i, d := range deps {
		out[i] = Dependency{ID: d.src.id(), Name: d.src.label(), Version: d.version}
	}
	return out
}

// Tracker records the dependencies read during one synchronous computation.
// Trackers are created by the runtime for every derivation recompute and
// prism evaluation and handed to the computation function; they must not be
// retained after the function returns.
type Tracker struct {
	rt   *Runtime
	deps []dependency
	seen map[NodeID]int
}

func newTracker(rt *Runtime) *Tracker {
	return &Tracker{rt: rt, seen: map[NodeID]int{}}
}

// Read reads r through the tracker. It is valid on a nil tracker, in which
// case the read is untracked.
func (tr *Tracker) Read(r Readable) (any, error) {
	return r.Read(tr)
}

// Runtime returns the runtime the tracker belongs to.
func (tr *Tracker) Runtime() *Runtime {
	if tr == nil {
		return nil
	}
	return tr.rt
}

// Dependencies returns what was recorded so far, in first-read order.
func (tr *Tracker) Dependencies() []Dependency {
	if tr == nil {
		return nil
	}
	return describe(tr.deps)
}

func (tr *Tracker) record(src source, version uint64) {
	if tr == nil {
		return
	}
	if i, ok := tr.seen[src.id()]; ok {
		tr.deps[i].version = version
		return
	}
	tr.seen[src.id()] = len(tr.deps)
	tr.deps = append(tr.deps, dependency{src: src, version: version})
}

// RunTracked runs fn with a fresh tracker and returns its result together
// with the dependencies fn read. It is the primitive behind derivation
// recomputes and prism evaluations, exposed for consumers that manage their
// own memoisation.
func RunTracked(rt *Runtime, fn func(tr *Tracker) (any, error)) (any, []Dependency, error) {
	tr := newTracker(rt)
	rt.enter(0, "tracked")
	v, err := func() (any, error) {
		defer rt.leave()
		return fn(tr)
	}()
	rt.settle()
	return v, tr.Dependencies(), err
}

// subscribe diffs the dependency lists of a subscriber: sources only in
// prev are unsubscribed from, sources only in next are subscribed to.
func subscribe(s subscriber, prev, next []dependency) {
	keep := make(map[NodeID]bool, len(next))
	for _, d := range next {
		keep[d.src.id()] = true
	}
	had := make(map[NodeID]bool, len(prev))
	for _, d := range prev {
		had[d.src.id()] = true
		if !keep[d.src.id()] {
			d.src.removeDependent(s)
		}
	}
	for _, d := range next {
		if !had[d.src.id()] {
			d.src.addDependent(s)
		}
	}
}

func unsubscribeAll(s subscriber, deps []dependency) {
	for _, d := range deps {
		d.src.removeDependent(s)
	}
}

// maxVersion returns the highest version among deps.
func maxVersion(deps []dependency) uint64 {
	var v uint64
	for _, d := range deps {
		if d.version > v {
			v = d.version
		}
	}
	return v
}

// unchanged re-validates recorded dependencies: each one is brought up to
// date and its version compared with the recorded one.
func unchanged(deps []dependency) bool {
	for _, d := range deps {
		v, err := d.src.refresh()
		if err != nil || v != d.version {
			return false
		}
	}
	return true
}
