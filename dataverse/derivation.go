package dataverse

import (
	"time"

	"github.com/jo-chemla/theatre/kpath"
)

// State is the lifecycle state of a derivation.
type State int

const (
	// Dirty derivations recompute, or re-validate their dependencies, on the
	// next read.
	Dirty State = iota
	// Computing derivations are running their function. Reading one is a
	// cycle.
	Computing
	// Clean derivations hold a value equal to what a fresh compute would
	// return.
	Clean
)

func (s State) String() string {
	switch s {
	case Dirty:
		return "Dirty"
	case Computing:
		return "Computing"
	case Clean:
		return "Clean"
	default:
		return "Unknown"
	}
}

// Derivation is a readable value with recorded provenance.
type Derivation interface {
	Readable
	Name() string
	State() State
	Version() uint64
	Pointer() Pointer
}

// ComputeFunc computes the value of a derivation. Every read that matters
// must go through tr.
type ComputeFunc func(tr *Tracker) (any, error)

// DerivationOption configures a derivation built with Runtime.Map.
type DerivationOption func(*derivation)

// Named sets the name used in logs, metrics and cycle reports.
func Named(name string) DerivationOption {
	return func(d *derivation) {
		d.name = name
	}
}

// WithEquality replaces Identical as the change detector of a derivation.
// A recompute that returns a value equal to the cached one keeps the
// derivation version, which keeps downstream memoisation intact.
func WithEquality(eq func(a, b any) bool) DerivationOption {
	return func(d *derivation) {
		if eq != nil {
			d.equal = eq
		}
	}
}

// derivation is a lazily computed, cached, dependency-tracked value.
//
// A derivation subscribes to its dependencies only while something depends
// on it. Without dependents it holds no edges at all and re-validates its
// recorded dependencies by version on every read; it is then never Clean.
type derivation struct {
	node

	compute ComputeFunc
	equal   func(a, b any) bool

	state           State
	value           any
	hasValue        bool
	version         uint64
	cachedAtVersion uint64
	deps            []dependency

	// broken is set when a cycle through this derivation was detected.
	broken error

	computations int

	pointers map[string]*derivation
	// evict drops a path derivation from the cache of its root once it
	// goes idle.
	evict func()
}

// Map creates a derivation computed by fn. The derivation starts Dirty and
// computes on first read.
func (rt *Runtime) Map(fn ComputeFunc, opts ...DerivationOption) Derivation {
	d := rt.newDerivation("", fn)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Map1 derives a value from a single upstream readable.
func Map1(rt *Runtime, src Readable, fn func(v any) (any, error), opts ...DerivationOption) Derivation {
	return rt.Map(func(tr *Tracker) (any, error) {
		v, err := src.Read(tr)
		if err != nil {
			return nil, err
		}
		return fn(v)
	}, opts...)
}

func (rt *Runtime) newDerivation(name string, fn ComputeFunc) *derivation {
	d := &derivation{
		node:    rt.newNode("derivation"),
		compute: fn,
		equal:   Identical,
		state:   Dirty,
	}
	if name != "" {
		d.name = name
	}
	return d
}

// State returns the mark of the derivation. While writes are unflushed a
// Clean mark is not trusted and reads as Dirty until the batch ends.
func (d *derivation) State() State {
	if d.state == Clean && d.rt.unflushed() {
		return Dirty
	}
	return d.state
}

func (d *derivation) Version() uint64 { return d.version }

// Computations returns how many times the compute function ran.
func (d *derivation) Computations() int { return d.computations }

// CachedAtVersion returns the highest dependency version seen by the last
// successful compute.
func (d *derivation) CachedAtVersion() uint64 { return d.cachedAtVersion }

// Dependencies returns the dependencies recorded by the last compute.
func (d *derivation) Dependencies() []Dependency { return describe(d.deps) }

func (d *derivation) Pointer() Pointer {
	return Pointer{root: d}
}

func (d *derivation) active() bool {
	return len(d.subs) > 0
}

// Read returns the value, recomputing first if needed, and records the
// derivation into tr.
func (d *derivation) Read(tr *Tracker) (any, error) {
	v, err := d.refresh()
	if err != nil {
		return nil, err
	}
	tr.record(d, v)
	return d.value, nil
}

func (d *derivation) refresh() (uint64, error) {
	if d.broken != nil {
		return 0, d.broken
	}

	switch {
	case d.state == Computing:
		err := d.rt.cycle(d.nid, d.name)
		d.broken = err
		return 0, err
	case d.state == Clean && d.active() && !d.rt.unflushed():
		return d.version, nil
	}

	if d.hasValue && unchanged(d.deps) {
		if d.active() {
			d.state = Clean
		}
		return d.version, nil
	}

	if err := d.recompute(); err != nil {
		return 0, err
	}
	return d.version, nil
}

func (d *derivation) recompute() error {
	d.state = Computing
	tr := newTracker(d.rt)

	start := time.Now()
	d.rt.enter(d.nid, d.name)
	value, err := func() (v any, err error) {
		finished := false
		defer func() {
			d.rt.leave()
			if !finished && d.state == Computing && d.broken == nil {
				d.state = Dirty
			}
		}()
		v, err = d.compute(tr)
		finished = true
		return v, err
	}()
	d.computations++

	if d.broken != nil {
		// Stays Computing for good; drop every edge it still holds.
		if d.active() {
			unsubscribeAll(d, d.deps)
		}
		d.deps = nil
		d.hasValue = false
		d.rt.observer.Computed(d.name, time.Since(start), d.broken)
		d.rt.settle()
		return d.broken
	}

	if err != nil {
		d.state = Dirty
		d.hasValue = false
		d.rt.observer.Computed(d.name, time.Since(start), err)
		d.rt.settle()
		return err
	}

	if d.active() {
		subscribe(d, d.deps, tr.deps)
	}
	d.deps = tr.deps
	d.cachedAtVersion = maxVersion(d.deps)

	if !d.hasValue || !d.equal(d.value, value) {
		d.value = value
		d.version = d.rt.tick()
	}
	d.hasValue = true

	if d.active() {
		d.state = Clean
	} else {
		d.state = Dirty
	}

	d.rt.observer.Computed(d.name, time.Since(start), nil)
	d.rt.settle()
	return nil
}

func (d *derivation) invalidate() {
	if d.state == Clean {
		d.state = Dirty
	}
}

// addDependent subscribes s. The first dependent activates the derivation:
// it subscribes to its own dependencies, which were validated by the read
// that preceded the subscription.
func (d *derivation) addDependent(s subscriber) {
	wasIdle := !d.active()
	d.subs[s.id()] = s
	if !wasIdle || d.broken != nil {
		return
	}

	for _, dep := range d.deps {
		dep.src.addDependent(d)
	}
	if d.hasValue && d.state == Dirty {
		d.state = Clean
	}
}

// removeDependent unsubscribes s. The last dependent leaving deactivates the
// derivation, which releases its own dependencies in turn.
func (d *derivation) removeDependent(s subscriber) {
	if _, ok := d.subs[s.id()]; !ok {
		return
	}
	delete(d.subs, s.id())
	if d.active() {
		return
	}

	unsubscribeAll(d, d.deps)
	if d.state == Clean {
		d.state = Dirty
	}
	if d.evict != nil {
		d.evict()
	}
}

// derivationAt returns the memoised segment derivation for path. Each path
// prefix gets its own derivation extracting one segment from its parent.
func (d *derivation) derivationAt(path kpath.Path) Derivation {
	return segmentAt(d, &d.pointers, path)
}

// segmentAt resolves path against root, creating and caching one
// derivation per prefix in cache.
func segmentAt(root Derivation, cache *map[string]*derivation, path kpath.Path) Derivation {
	if len(path) == 0 {
		return root
	}

	key := path.String()
	if d, ok := (*cache)[key]; ok {
		return d
	}

	parent := segmentAt(root, cache, path.Parent())
	seg, _ := path.Last()
	rt := root.(interface{ runtime() *Runtime }).runtime()
	d := rt.newDerivation(root.Name()+key[1:], func(tr *Tracker) (any, error) {
		v, err := parent.Read(tr)
		if err != nil {
			return nil, err
		}
		return extract(v, seg), nil
	})

	cacheDerivation(cache, key, d)
	return d
}

// cacheDerivation stores d under key until d loses its last dependent.
// Derivations that never had one stay cached, so pointers resolved
// repeatedly outside of any computation share one derivation.
func cacheDerivation(cache *map[string]*derivation, key string, d *derivation) {
	if *cache == nil {
		*cache = map[string]*derivation{}
	}
	(*cache)[key] = d
	d.evict = func() {
		if (*cache)[key] == d {
			delete(*cache, key)
		}
	}
}
