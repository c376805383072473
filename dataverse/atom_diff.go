package dataverse

import (
	"fmt"

	"github.com/jo-chemla/theatre/kpath"
)

// apply writes v into the atom and reports whether anything changed. Every
// changed atom below and including a gets a new version; ancestors of a are
// the caller's business.
func (a *Atom) apply(v any) bool {
	if c, ok := v.(*Atom); ok {
		if c == a {
			return false
		}
		v = c.Get()
	}

	var changed bool
	switch nv := v.(type) {
	case map[string]any:
		changed = a.applyRecord(nv)
	case []any:
		changed = a.applySequence(nv)
	default:
		changed = a.applyScalar(nv)
	}

	if changed {
		a.bump()
	}
	return changed
}

func (a *Atom) applyScalar(v any) bool {
	if a.kind == KindScalar {
		if Identical(a.value, v) {
			return false
		}
		a.value = v
		return true
	}

	a.clearChildren()
	a.kind = KindScalar
	a.value = v
	return true
}

func (a *Atom) applyRecord(rec map[string]any) bool {
	changed := false
	if a.kind != KindRecord {
		a.clearChildren()
		a.kind = KindRecord
		a.value = nil
		a.fields = make(map[string]*Atom, len(rec))
		changed = true
	}

	for _, k := range sortedKeys(a.fields) {
		if _, keep := rec[k]; !keep {
			a.fields[k].destroy()
			delete(a.fields, k)
			changed = true
		}
	}

	for _, k := range sortedKeys(rec) {
		child, ch := a.reconcile(a.fields[k], rec[k])
		a.fields[k] = child
		changed = changed || ch
	}
	return changed
}

func (a *Atom) applySequence(seq []any) bool {
	changed := false
	if a.kind != KindSequence {
		a.clearChildren()
		a.kind = KindSequence
		a.value = nil
		a.elems = make([]*Atom, 0, len(seq))
		changed = true
	}

	if len(a.elems) > len(seq) {
		for i := len(a.elems) - 1; i >= len(seq); i-- {
			a.elems[i].destroy()
			a.elems[i] = nil
		}
		a.elems = a.elems[:len(seq)]
		changed = true
	}

	for i, v := range seq {
		if i < len(a.elems) {
			child, ch := a.reconcile(a.elems[i], v)
			a.elems[i] = child
			changed = changed || ch
			continue
		}
		a.elems = append(a.elems, a.rt.adopt(a, v))
		changed = true
	}
	return changed
}

// reconcile decides which atom holds v at a child slot currently held by
// existing (nil for a new slot).
func (a *Atom) reconcile(existing *Atom, v any) (*Atom, bool) {
	if existing == nil {
		return a.rt.adopt(a, v), true
	}

	if c, ok := v.(*Atom); ok {
		if c == existing {
			return existing, false
		}
		if a.canAdopt(c) {
			existing.destroy()
			c.parent = a
			return c, true
		}
		v = c.Get()
	}

	return existing, existing.apply(v)
}

// clearChildren destroys all children, last ones first.
func (a *Atom) clearChildren() {
	for i := len(a.elems) - 1; i >= 0; i-- {
		a.elems[i].destroy()
	}
	keys := sortedKeys(a.fields)
	for i := len(keys) - 1; i >= 0; i-- {
		a.fields[keys[i]].destroy()
	}
	a.elems = nil
	a.fields = nil
}

// destroy tears the subtree down, leaves first. Destroyed atoms get a final
// version so that their dependents are invalidated and re-resolve.
func (a *Atom) destroy() {
	if a.destroyed {
		return
	}
	a.clearChildren()
	a.destroyed = true
	a.parent = nil
	a.kind = KindScalar
	a.value = nil
	a.snap = nil
	a.pointers = nil
	a.bump()
}

func (a *Atom) removeChild(seg kpath.Segment) bool {
	switch a.kind {
	case KindRecord:
		if seg.IsIndex() {
			return false
		}
		c, ok := a.fields[seg.Key()]
		if !ok {
			return false
		}
		c.destroy()
		delete(a.fields, seg.Key())
	case KindSequence:
		i := seg.Index()
		if !seg.IsIndex() || i < 0 || i >= len(a.elems) {
			return false
		}
		c := a.elems[i]
		elems := make([]*Atom, 0, len(a.elems)-1)
		elems = append(elems, a.elems[:i]...)
		elems = append(elems, a.elems[i+1:]...)
		a.elems = elems
		c.destroy()
		for _, moved := range a.elems[i:] {
			moved.touchSubtree()
		}
	default:
		return false
	}

	a.bump()
	return true
}

func (a *Atom) setIn(path kpath.Path, v any) (bool, error) {
	if len(path) == 0 {
		return a.apply(v), nil
	}

	seg, rest := path[0], path[1:]
	child := a.child(seg)
	if child == nil {
		nv := v
		for i := len(rest) - 1; i >= 0; i-- {
			switch {
			case !rest[i].IsIndex():
				nv = map[string]any{rest[i].Key(): nv}
			case rest[i].Index() == 0:
				nv = []any{nv}
			default:
				return false, fmt.Errorf("%w: cannot create sparse element %s", ErrInvalidWrite, rest[i])
			}
		}
		if err := a.insertChild(seg, nv); err != nil {
			return false, err
		}
		a.bump()
		return true, nil
	}

	changed, err := child.setIn(rest, v)
	if changed {
		a.bump()
	}
	return changed, err
}

func (a *Atom) insertChild(seg kpath.Segment, v any) error {
	switch {
	case a.kind == KindRecord && !seg.IsIndex():
		a.fields[seg.Key()] = a.rt.adopt(a, v)
	case a.kind == KindSequence && seg.IsIndex() && seg.Index() == len(a.elems):
		a.elems = append(a.elems, a.rt.adopt(a, v))
	case a.kind == KindScalar && a.value == nil && !seg.IsIndex():
		a.kind = KindRecord
		a.fields = map[string]*Atom{seg.Key(): a.rt.adopt(a, v)}
	case a.kind == KindScalar && a.value == nil && seg.IsIndex() && seg.Index() == 0:
		a.kind = KindSequence
		a.elems = []*Atom{a.rt.adopt(a, v)}
	default:
		return fmt.Errorf("%w: cannot insert %s into %s atom %s", ErrInvalidWrite, seg, a.kind, a.name)
	}
	return nil
}

func (a *Atom) refresh() (uint64, error) {
	return a.version, nil
}

func (a *Atom) addDependent(s subscriber) {
	a.subs[s.id()] = s
}

func (a *Atom) removeDependent(s subscriber) {
	delete(a.subs, s.id())
}

// derivationAt returns the memoised derivation for path. Path derivations
// over atoms walk the owned children on every compute and depend only on
// the deepest atom reached: the target itself, or the ancestor that lacks
// the next segment.
func (a *Atom) derivationAt(path kpath.Path) Derivation {
	if len(path) == 0 {
		return a
	}

	key := path.String()
	if d, ok := a.pointers[key]; ok {
		return d
	}

	target := path.Append()
	d := a.rt.newDerivation(a.name+key[1:], func(tr *Tracker) (any, error) {
		return a.walk(tr, target)
	})
	cacheDerivation(&a.pointers, key, d)
	return d
}

func (a *Atom) walk(tr *Tracker, path kpath.Path) (any, error) {
	cur := a
	for _, seg := range path {
		next := cur.child(seg)
		if next == nil {
			tr.record(cur, cur.version)
			return nil, nil
		}
		cur = next
	}
	return cur.Read(tr)
}
