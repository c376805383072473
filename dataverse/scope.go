package dataverse

import (
	"fmt"
)

// Scope is handed to a PrismFunc. Reads through the embedded Tracker become
// dependencies of the prism; the other methods manage state retained
// across runs.
type Scope struct {
	*Tracker
	prism *Prism
}

// Prism returns the prism being evaluated.
func (s *Scope) Prism() *Prism {
	return s.prism
}

// Child runs fn as the child prism identified by key, creating it on first
// use. The child keeps its cache across runs of the parent, so an unchanged
// child is not run again even when the parent is. Children whose key is not
// used during a run are disposed when the run ends.
//
// key must be comparable. The child becomes a dependency of the parent: the
// parent is invalidated only when the child result changes.
func (s *Scope) Child(key any, fn PrismFunc, depKey ...any) (any, error) {
	p := s.prism
	c, ok := p.children[key]
	if !ok {
		c = p.rt.newPrism("prism")
		c.name = fmt.Sprintf("%s/%v", p.name, key)
		c.parent = p
		c.key = key
		p.children[key] = c
		p.childOrder = append(p.childOrder, key)
	}
	p.seen[key] = true

	v, err := c.Use(fn, depKey...)
	if err != nil {
		return nil, err
	}
	s.record(c, c.version)
	return v, nil
}

// OnCleanup registers fn to run before the next run of the prism, or when
// the prism is disposed. Cleanups run last registered first.
func (s *Scope) OnCleanup(fn func() error) {
	s.prism.cleanups = append(s.prism.cleanups, fn)
}

// Memo returns a value retained by the prism under key, calling fn only the
// first time or when depKey changed. Reads made by fn are not tracked.
func (s *Scope) Memo(key any, fn func() (any, error), depKey ...any) (any, error) {
	p := s.prism
	if m, ok := p.memos[key]; ok && keysEqual(m.depKey, depKey) {
		return m.value, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	p.memos[key] = &memo{value: v, depKey: append([]any(nil), depKey...)}
	return v, nil
}
