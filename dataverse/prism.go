package dataverse

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// PrismFunc is the body of a prism. Reads made through s are recorded as
// dependencies of the prism.
type PrismFunc func(s *Scope) (any, error)

// PrismOption configures a prism created with Runtime.NewPrism.
type PrismOption func(*Prism)

// PrismName sets the name used in logs, metrics and cycle reports.
func PrismName(name string) PrismOption {
	return func(p *Prism) {
		p.name = name
	}
}

// OnInvalidate registers fn to be called once per batch when a dependency
// of the prism changed. The rendering layer uses it to schedule a re-run.
// fn runs after the batch was flushed, so it may read freely.
func OnInvalidate(fn func()) PrismOption {
	return func(p *Prism) {
		p.onInvalidate = fn
	}
}

// Prism is a retained, memoised reactive computation owned by an external
// consumer. Every call to Use either returns the cached result, when
// neither the dependency key nor any recorded dependency changed, or runs
// the function again.
//
// Prisms may create child prisms through Scope.Child. Children are keyed,
// survive re-runs of their parent as long as their key is used again, and
// are disposed, last created first, when a run no longer uses them.
//
// A Prism is also a Readable: other computations may depend on its result.
type Prism struct {
	node

	parent       *Prism
	key          any
	onInvalidate func()

	fn        PrismFunc
	depKey    []any
	hasDepKey bool
	result    any
	hasResult bool
	version   uint64
	deps      []dependency
	dirty     bool

	running     bool
	disposed    bool
	evaluations int

	children   map[any]*Prism
	childOrder []any
	seen       map[any]bool
	memos      map[any]*memo
	cleanups   []func() error
}

type memo struct {
	value  any
	depKey []any
}

// NewPrism creates an empty prism. It does nothing until Use is called.
func (rt *Runtime) NewPrism(opts ...PrismOption) *Prism {
	p := rt.newPrism("prism")
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (rt *Runtime) newPrism(kind string) *Prism {
	return &Prism{
		node:     rt.newNode(kind),
		dirty:    true,
		children: map[any]*Prism{},
		memos:    map[any]*memo{},
	}
}

// Use returns the result of fn, running it only when needed: on the first
// call, when depKey differs from the previous call, or when a dependency
// recorded by the previous run changed.
//
// Errors returned by fn propagate; the prism then runs fn again on the next
// call.
func (p *Prism) Use(fn PrismFunc, depKey ...any) (any, error) {
	if p.disposed {
		return nil, fmt.Errorf("%w: %s", ErrDisposed, p.name)
	}
	if p.running {
		return nil, p.rt.cycle(p.nid, p.name)
	}

	p.fn = fn
	if p.hasResult && p.hasDepKey && keysEqual(p.depKey, depKey) && p.fresh() {
		p.rt.observer.PrismEvaluated(p.name, true)
		return p.result, nil
	}

	p.depKey = append([]any(nil), depKey...)
	p.hasDepKey = true
	p.rt.observer.PrismEvaluated(p.name, false)
	before := p.version
	err := p.evaluate()
	if p.version != before && len(p.subs) > 0 {
		// No atom write leads to these dependents.
		p.rt.markStale(p.dependents())
		p.rt.settle()
	}
	if err != nil {
		return nil, err
	}
	return p.result, nil
}

// Read returns the current result of the prism, running it when stale, and
// records the prism into tr. A prism that was never used reads as nil.
func (p *Prism) Read(tr *Tracker) (any, error) {
	if _, err := p.refresh(); err != nil {
		return nil, err
	}
	tr.record(p, p.version)
	return p.result, nil
}

// Evaluations returns how many times the prism function ran.
func (p *Prism) Evaluations() int { return p.evaluations }

// Dependencies returns what the last run of the prism read.
func (p *Prism) Dependencies() []Dependency { return describe(p.deps) }

// Disposed reports whether Dispose was called.
func (p *Prism) Disposed() bool { return p.disposed }

// Children returns the keys of the live child prisms in creation order.
func (p *Prism) Children() []any {
	return append([]any(nil), p.childOrder...)
}

// fresh reports whether the cached result is still valid, re-validating the
// recorded dependencies when an invalidation was received.
func (p *Prism) fresh() bool {
	if !p.dirty && !p.rt.unflushed() {
		return true
	}
	if unchanged(p.deps) {
		p.dirty = false
		return true
	}
	return false
}

func (p *Prism) evaluate() error {
	rt := p.rt
	if errs := p.runCleanups(); errs != nil {
		rt.log.Error(errs, "Prism cleanup failed", "prism", p.name)
	}

	s := &Scope{Tracker: newTracker(rt), prism: p}
	p.seen = map[any]bool{}
	p.evaluations++
	p.running = true

	start := time.Now()
	rt.enter(p.nid, p.name)
	v, err := func() (any, error) {
		defer func() {
			rt.leave()
			p.running = false
		}()
		return p.fn(s)
	}()

	if perr := p.pruneChildren(); perr != nil {
		rt.log.Error(perr, "Disposing unused child prisms failed", "prism", p.name)
	}
	p.seen = nil

	// Subscribe even on error, so that the consumer hears about changes
	// that might fix the failure.
	subscribe(p, p.deps, s.deps)
	p.deps = s.deps

	if err != nil {
		p.dirty = true
		p.hasResult = false
		rt.log.V(1).Info("Prism failed", "prism", p.name, "error", err.Error(), "elapsed", time.Since(start))
		rt.settle()
		return err
	}

	if !p.hasResult || !Identical(p.result, v) {
		p.result = v
		p.version = rt.tick()
	}
	p.hasResult = true
	p.dirty = false

	rt.settle()
	return nil
}

func (p *Prism) refresh() (uint64, error) {
	switch {
	case p.disposed:
		return p.version, nil
	case p.running:
		return 0, p.rt.cycle(p.nid, p.name)
	case p.fn == nil:
		return p.version, nil
	case p.hasResult && p.fresh():
		return p.version, nil
	}

	if err := p.evaluate(); err != nil {
		return 0, err
	}
	return p.version, nil
}

func (p *Prism) invalidate() {
	if p.disposed || p.dirty {
		return
	}
	p.dirty = true
	if p.onInvalidate != nil {
		p.rt.scheduleNotify(p)
	}
}

func (p *Prism) fireInvalidate() {
	if p.disposed || p.onInvalidate == nil {
		return
	}
	p.onInvalidate()
}

func (p *Prism) addDependent(s subscriber) {
	if p.disposed {
		return
	}
	p.subs[s.id()] = s
}

func (p *Prism) removeDependent(s subscriber) {
	delete(p.subs, s.id())
}

// pruneChildren disposes the children the last run did not use, last
// created first.
func (p *Prism) pruneChildren() error {
	var errs error
	kept := p.childOrder[:0:0]
	for i := len(p.childOrder) - 1; i >= 0; i-- {
		key := p.childOrder[i]
		if p.seen[key] {
			continue
		}
		errs = multierr.Append(errs, p.children[key].dispose())
	}
	for _, key := range p.childOrder {
		if p.seen[key] {
			kept = append(kept, key)
		}
	}
	p.childOrder = kept
	return errs
}

func (p *Prism) runCleanups() error {
	var errs error
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, p.cleanups[i]())
	}
	p.cleanups = nil
	return errs
}

// Dispose tears the prism down: children first, last created first, then
// the cleanups registered by the last run, in reverse. Afterwards the prism
// holds no edge in the dependency graph and no callback fires for it.
//
// Disposing twice is a no-op. Cleanup errors are aggregated.
func (p *Prism) Dispose() error {
	if p.disposed {
		return nil
	}
	err := p.dispose()
	p.rt.log.V(1).Info("Disposed prism", "prism", p.name)
	p.rt.settle()
	return err
}

func (p *Prism) dispose() error {
	if p.disposed {
		return nil
	}

	var errs error
	for i := len(p.childOrder) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, p.children[p.childOrder[i]].dispose())
	}
	p.children = nil
	p.childOrder = nil

	errs = multierr.Append(errs, p.runCleanups())

	p.disposed = true
	unsubscribeAll(p, p.deps)
	p.deps = nil
	if p.hasResult {
		p.version = p.rt.tick()
	}
	var stale []subscriber
	for _, s := range p.dependents() {
		if p.parent == nil || s.id() != p.parent.nid {
			stale = append(stale, s)
		}
	}
	p.rt.markStale(stale)
	p.subs = map[NodeID]subscriber{}
	if p.parent != nil && p.parent.children != nil && p.parent.children[p.key] == p {
		delete(p.parent.children, p.key)
	}
	p.fn = nil
	p.result = nil
	p.hasResult = false
	p.memos = nil
	return errs
}

func keysEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Identical(a[i], b[i]) {
			return false
		}
	}
	return true
}
