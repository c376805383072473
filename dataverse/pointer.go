package dataverse

import (
	"fmt"
	"strconv"

	"github.com/jo-chemla/theatre/kpath"
)

// pointerRoot is what a pointer can start from: an atom or a derivation.
type pointerRoot interface {
	Derivation
	ID() NodeID
	derivationAt(path kpath.Path) Derivation
}

// Pointer is an immutable (root, path) descriptor. Navigating returns new
// pointers; resolving one yields a derivation scoped to exactly that path.
//
// Pointers with the same root and path resolve to the same derivation
// instance, so they can be used as stable cache keys (see Key).
type Pointer struct {
	root pointerRoot
	path kpath.Path
}

// PointerTo builds a pointer from a derivation (or atom) and a path. Roots
// that do not support pointers yield the zero Pointer, which resolves to
// nil.
func PointerTo(d Derivation, path kpath.Path) Pointer {
	root, ok := d.(pointerRoot)
	if !ok {
		return Pointer{}
	}
	return Pointer{root: root, path: path.Append()}
}

// Field returns a pointer to the record field name below p.
func (p Pointer) Field(name string) Pointer {
	return Pointer{root: p.root, path: p.path.Append(kpath.Key(name))}
}

// Index returns a pointer to the sequence element i below p.
func (p Pointer) Index(i int) Pointer {
	return Pointer{root: p.root, path: p.path.Append(kpath.Index(i))}
}

// Join returns a pointer to path below p.
func (p Pointer) Join(path kpath.Path) Pointer {
	return Pointer{root: p.root, path: p.path.Append(path...)}
}

// At parses a JSONPath-like expression (see kpath.Parse) and returns the
// pointer it addresses below p.
func (p Pointer) At(expr string) (Pointer, error) {
	path, err := kpath.Parse(expr)
	if err != nil {
		return Pointer{}, err
	}
	return p.Join(path), nil
}

// MustAt is like At but panics on error.
func (p Pointer) MustAt(expr string) Pointer {
	q, err := p.At(expr)
	if err != nil {
		panic(err)
	}
	return q
}

// Parent returns the pointer one level up. The parent of a root pointer is
// itself.
func (p Pointer) Parent() Pointer {
	return Pointer{root: p.root, path: p.path.Parent()}
}

// Path returns a copy of the pointer path.
func (p Pointer) Path() kpath.Path {
	return p.path.Append()
}

// Root returns the derivation (or atom) the pointer starts from.
func (p Pointer) Root() Derivation {
	if p.root == nil {
		return nil
	}
	return p.root
}

// IsZero reports whether p has no root.
func (p Pointer) IsZero() bool {
	return p.root == nil
}

// Equal reports whether both pointers have the same root and path.
func (p Pointer) Equal(o Pointer) bool {
	return p.root == o.root && p.path.Equal(o.path)
}

// Key returns a string that is equal for two pointers exactly when they
// are Equal and share a runtime.
func (p Pointer) Key() string {
	if p.root == nil {
		return ""
	}
	return strconv.FormatUint(uint64(p.root.ID()), 10) + p.path.String()
}

func (p Pointer) String() string {
	if p.root == nil {
		return "<nil pointer>"
	}
	return fmt.Sprintf("%s%s", p.root.Name(), p.path.String()[1:])
}

// Derivation resolves the pointer to its memoised per-path derivation.
// Paths that do not exist resolve to a derivation of nil.
func (p Pointer) Derivation() Derivation {
	if p.root == nil {
		return nil
	}
	return p.root.derivationAt(p.path)
}

// Read resolves the pointer and reads its derivation. Missing paths read
// as nil without error.
func (p Pointer) Read(tr *Tracker) (any, error) {
	d := p.Derivation()
	if d == nil {
		return nil, nil
	}
	return d.Read(tr)
}
