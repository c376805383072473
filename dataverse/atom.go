package dataverse

import (
	"fmt"

	"github.com/jo-chemla/theatre/kpath"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Kind discriminates what an atom holds.
type Kind int

const (
	KindScalar Kind = iota
	KindSequence
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindSequence:
		return "Sequence"
	case KindRecord:
		return "Record"
	default:
		return "Unknown"
	}
}

// Atom is a mutable reactive cell and the only way to change state in a
// Runtime.
//
// An atom holds a scalar, an ordered sequence or a keyed record. Container
// atoms own one child atom per element or key. Writing a new value diffs it
// against the current structure: children whose values did not change keep
// their identity and their version, so nothing depending on them is
// invalidated. Only the atoms on the touched paths, and their ancestors, get
// a new version.
//
// An atom is also a trivial Derivation of its own value.
type Atom struct {
	node

	kind   Kind
	value  any
	elems  []*Atom
	fields map[string]*Atom

	parent    *Atom
	version   uint64
	destroyed bool

	// Materialised value of a container, valid while snapAt == version.
	snap   any
	snapAt uint64

	pointers map[string]*derivation
}

// Atom creates an atom. []any values become sequence atoms, map[string]any
// values become record atoms, nested *Atom values without a parent are
// adopted as children, and everything else is a scalar.
func (rt *Runtime) Atom(v any) *Atom {
	return rt.adopt(nil, v)
}

// OrderedAtom creates a sequence atom.
func (rt *Runtime) OrderedAtom(seq []any) *Atom {
	if seq == nil {
		seq = []any{}
	}
	return rt.Atom(seq)
}

// RecordAtom creates a record atom.
func (rt *Runtime) RecordAtom(rec map[string]any) *Atom {
	if rec == nil {
		rec = map[string]any{}
	}
	return rt.Atom(rec)
}

// adopt returns the atom that represents v as a child of parent: v itself
// when it is an adoptable atom, a fresh atom otherwise.
func (rt *Runtime) adopt(parent *Atom, v any) *Atom {
	if c, ok := v.(*Atom); ok {
		if parent != nil && parent.canAdopt(c) {
			c.parent = parent
			return c
		}
		if parent == nil && c.rt == rt && !c.destroyed {
			return c
		}
		v = c.Get()
	}

	a := &Atom{
		node:    rt.newNode("atom"),
		parent:  parent,
		version: rt.tick(),
	}
	a.init(v)
	return a
}

func (a *Atom) init(v any) {
	switch nv := v.(type) {
	case map[string]any:
		a.kind = KindRecord
		a.fields = make(map[string]*Atom, len(nv))
		for _, k := range sortedKeys(nv) {
			a.fields[k] = a.rt.adopt(a, nv[k])
		}
	case []any:
		a.kind = KindSequence
		a.elems = make([]*Atom, len(nv))
		for i, e := range nv {
			a.elems[i] = a.rt.adopt(a, e)
		}
	default:
		a.kind = KindScalar
		a.value = v
	}
}

func (a *Atom) canAdopt(c *Atom) bool {
	if c.rt != a.rt || c.parent != nil || c.destroyed {
		return false
	}
	for p := a; p != nil; p = p.parent {
		if p == c {
			return false
		}
	}
	return true
}

// Kind returns what the atom currently holds.
func (a *Atom) Kind() Kind { return a.kind }

// Version returns the atom version. It increases whenever the value of the
// atom or of one of its descendants changes.
func (a *Atom) Version() uint64 { return a.version }

// State is always Clean: an atom is its own up-to-date value.
func (a *Atom) State() State { return Clean }

// Destroyed reports whether the atom was removed from its tree or destroyed
// explicitly.
func (a *Atom) Destroyed() bool { return a.destroyed }

// Parent returns the owning container atom, or nil for roots.
func (a *Atom) Parent() *Atom { return a.parent }

// Len returns the number of children of a container atom.
func (a *Atom) Len() int {
	switch a.kind {
	case KindRecord:
		return len(a.fields)
	case KindSequence:
		return len(a.elems)
	}
	return 0
}

// Keys returns the sorted keys of a record atom.
func (a *Atom) Keys() []string {
	if a.kind != KindRecord {
		return nil
	}
	return sortedKeys(a.fields)
}

// Child returns the child atom addressed by seg, or nil.
func (a *Atom) Child(seg kpath.Segment) *Atom {
	return a.child(seg)
}

// ChildAt walks path through owned children and returns the atom found, or
// nil when a segment is missing.
func (a *Atom) ChildAt(path kpath.Path) *Atom {
	cur := a
	for _, seg := range path {
		if cur = cur.child(seg); cur == nil {
			return nil
		}
	}
	return cur
}

func (a *Atom) child(seg kpath.Segment) *Atom {
	switch a.kind {
	case KindRecord:
		if seg.IsIndex() {
			return nil
		}
		return a.fields[seg.Key()]
	case KindSequence:
		if !seg.IsIndex() || seg.Index() < 0 || seg.Index() >= len(a.elems) {
			return nil
		}
		return a.elems[seg.Index()]
	}
	return nil
}

// Get returns the current value without tracking. Containers are
// materialised as map[string]any and []any; the result is shared between
// calls and must not be modified.
func (a *Atom) Get() any {
	if a.kind == KindScalar {
		return a.value
	}
	if a.snap != nil && a.snapAt == a.version {
		return a.snap
	}

	var out any
	switch a.kind {
	case KindRecord:
		m := make(map[string]any, len(a.fields))
		for k, c := range a.fields {
			m[k] = c.Get()
		}
		out = m
	case KindSequence:
		s := make([]any, len(a.elems))
		for i, c := range a.elems {
			s[i] = c.Get()
		}
		out = s
	}
	a.snap, a.snapAt = out, a.version
	return out
}

// Read returns the current value and records the atom as a dependency of tr.
func (a *Atom) Read(tr *Tracker) (any, error) {
	tr.record(a, a.version)
	return a.Get(), nil
}

// Pointer returns the root pointer over this atom.
func (a *Atom) Pointer() Pointer {
	return Pointer{root: a}
}

// Set replaces the value of the atom. See Atom for the diffing rules.
//
// Outside of a batch the write is flushed immediately. Inside a computation
// it is deferred and delivered as a new batch once the computation ends.
func (a *Atom) Set(v any) {
	a.write(func() bool {
		return a.apply(v)
	})
}

// Reduce replaces the value of the atom with fn(current value).
func (a *Atom) Reduce(fn func(old any) any) {
	a.write(func() bool {
		return a.apply(fn(a.Get()))
	})
}

// SetIn writes v at path below the atom, creating missing record levels.
// Missing sequence levels can only be created at index 0 of an empty or
// nil atom. Deferred writes report errors to the runtime log only.
func (a *Atom) SetIn(path kpath.Path, v any) error {
	var err error
	a.write(func() bool {
		var changed bool
		changed, err = a.setIn(path, v)
		if err != nil {
			a.rt.log.Error(err, "Write failed", "atom", a.name, "path", path.String())
		}
		return changed
	})
	return err
}

// Remove deletes the child addressed by seg together with its subtree.
// Removing a sequence element shifts the following elements down.
func (a *Atom) Remove(seg kpath.Segment) {
	a.write(func() bool {
		return a.removeChild(seg)
	})
}

// Destroy removes the atom from its parent, if any, and destroys it with
// all of its descendants. Dependents are invalidated and see nil.
func (a *Atom) Destroy() {
	a.write(func() bool {
		if p := a.parent; p != nil {
			p.removeChild(p.segmentOf(a))
			p.bumpAncestors()
			return false
		}
		a.destroy()
		return false
	})
}

// write runs apply inside a batch, or defers it while a computation runs.
// apply reports whether the atom changed, in which case its ancestors get
// new versions too.
func (a *Atom) write(apply func() bool) {
	if a.destroyed {
		a.rt.log.V(1).Info("Ignoring write to destroyed atom", "atom", a.name)
		return
	}
	if a.rt.Computing() {
		a.rt.deferWrite(a.name, func() {
			a.write(apply)
		})
		return
	}

	a.rt.Batch(func() {
		if apply() {
			a.bumpAncestors()
		}
	})
}

func (a *Atom) bump() {
	a.version = a.rt.tick()
	a.rt.markChanged(a)
}

func (a *Atom) bumpAncestors() {
	for p := a.parent; p != nil; p = p.parent {
		p.bump()
	}
}

// touchSubtree bumps the atom and all of its descendants. Used when
// elements move to another index, which changes what index paths address.
func (a *Atom) touchSubtree() {
	a.bump()
	for _, c := range a.elems {
		c.touchSubtree()
	}
	for _, k := range sortedKeys(a.fields) {
		a.fields[k].touchSubtree()
	}
}

func (a *Atom) segmentOf(c *Atom) kpath.Segment {
	switch a.kind {
	case KindRecord:
		for k, f := range a.fields {
			if f == c {
				return kpath.Key(k)
			}
		}
	case KindSequence:
		if i := slices.Index(a.elems, c); i >= 0 {
			return kpath.Index(i)
		}
	}
	return kpath.Index(-1)
}

func (a *Atom) String() string {
	return fmt.Sprintf("%s(%s)", a.name, a.kind)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
