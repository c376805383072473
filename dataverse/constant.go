package dataverse

import (
	"github.com/jo-chemla/theatre/kpath"
)

// constant is a derivation with a fixed value and no dependencies. It is
// permanently Clean and never recorded as a dependency, since it cannot
// change.
type constant struct {
	node
	value    any
	version  uint64
	pointers map[string]*derivation
}

// Constant wraps v as a Derivation.
func (rt *Runtime) Constant(v any) Derivation {
	return &constant{
		node:    rt.newNode("constant"),
		value:   v,
		version: rt.tick(),
	}
}

func (c *constant) Read(*Tracker) (any, error) { return c.value, nil }
func (c *constant) State() State { return Clean }
func (c *constant) Version() uint64 { return c.version }
func (c *constant) Pointer() Pointer { return Pointer{root: c} }

func (c *constant) derivationAt(path kpath.Path) Derivation {
	return segmentAt(c, &c.pointers, path)
}
