package dataverse

import (
	"fmt"

	"github.com/go-logr/logr"
)

// NodeID identifies a node (atom, derivation or prism) within a Runtime.
type NodeID uint64

// DefaultMaxFlushPasses bounds how many times a flush may loop because
// after-batch callbacks keep writing.
const DefaultMaxFlushPasses = 100

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogr sets the logger of the runtime.
var WithLogr = func(log logr.Logger) Option {
	return func(rt *Runtime) {
		rt.log = log
	}
}

// WithObserver installs an Observer that is told about computations,
// prism evaluations, flushes and deferred writes.
var WithObserver = func(o Observer) Option {
	return func(rt *Runtime) {
		if o != nil {
			rt.observer = o
		}
	}
}

// WithMaxFlushPasses sets the limit of flush passes per batch.
var WithMaxFlushPasses = func(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.maxFlushPasses = n
		}
	}
}

// Runtime owns one dependency graph: it hands out node IDs and versions,
// batches writes and tracks which computations are running.
//
// A Runtime is NOT safe for concurrent use. Every operation on it and on
// the nodes it created must happen on one goroutine.
type Runtime struct {
	log            logr.Logger
	observer       Observer
	maxFlushPasses int

	lastID NodeID
	epoch  uint64

	// Ticker state.
	batchDepth   int
	flushing     bool
	changed      map[NodeID]*Atom
	changedOrder []*Atom
	stale        []subscriber
	notify       []*Prism
	afterBatch   []func()

	// Computation state.
	stack    []frame
	deferred []func()
}

// frame is an entry of the stack of running computations.
type frame struct {
	id    NodeID
	label string
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		log:            logr.Discard(),
		observer:       nopObserver{},
		maxFlushPasses: DefaultMaxFlushPasses,
		changed:        map[NodeID]*Atom{},
	}

	for _, opt := range opts {
		opt(rt)
	}

	return rt
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() logr.Logger {
	return rt.log
}

func (rt *Runtime) newNode(kind string) node {
	rt.lastID++
	return node{
		rt:   rt,
		nid:  rt.lastID,
		name: fmt.Sprintf("%s#%d", kind, rt.lastID),
		subs: map[NodeID]subscriber{},
	}
}

// tick advances the epoch clock. Versions of all nodes are drawn from it, so
// they increase monotonically per node and are comparable across nodes.
func (rt *Runtime) tick() uint64 {
	rt.epoch++
	return rt.epoch
}

// Epoch returns the last version handed out.
func (rt *Runtime) Epoch() uint64 {
	return rt.epoch
}

// Computing reports whether a derivation or prism computation is running.
func (rt *Runtime) Computing() bool {
	return len(rt.stack) > 0
}

func (rt *Runtime) enter(id NodeID, label string) {
	rt.stack = append(rt.stack, frame{id: id, label: label})
}

// running reports whether the node id is on the computation stack.
func (rt *Runtime) running(id NodeID) bool {
	for _, f := range rt.stack {
		if f.id == id {
			return true
		}
	}
	return false
}

// leave pops the current computation frame and reports whether it was the
// outermost one.
func (rt *Runtime) leave() bool {
	rt.stack = rt.stack[:len(rt.stack)-1]
	return len(rt.stack) == 0
}

// cycle builds the error for re-entering the node id while it computes.
func (rt *Runtime) cycle(id NodeID, label string) *CyclicDependencyError {
	path := []string{}
	for i := len(rt.stack) - 1; i >= 0; i-- {
		if rt.stack[i].id == id {
			for _, f := range rt.stack[i:] {
				path = append(path, f.label)
			}
			break
		}
	}
	if len(path) == 0 {
		path = append(path, label)
	}
	path = append(path, label)

	err := &CyclicDependencyError{Path: path}
	rt.log.Error(err, "Cycle detected", "node", label)
	return err
}

// deferWrite queues a write issued while a computation is running. Queued
// writes are delivered as one batch after the outermost computation ends.
func (rt *Runtime) deferWrite(target string, write func()) {
	rt.deferred = append(rt.deferred, write)
	rt.observer.WriteDeferred()
	rt.log.V(1).Info("Write deferred until computation completes", "atom", target, "computing", rt.stack[len(rt.stack)-1].label)
}

// settle delivers deferred writes and pending callbacks once no computation
// and no batch is running anymore.
func (rt *Runtime) settle() {
	if rt.Computing() || rt.batchDepth > 0 || rt.flushing || !rt.pending() {
		return
	}
	rt.flush()
}
