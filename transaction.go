package theatre

import (
	"fmt"

	"github.com/jo-chemla/theatre/dataverse"
	"github.com/jo-chemla/theatre/kpath"
)

// Transaction stages writes across the studio branches. Nothing is written
// until the function passed to Studio.Transaction returns without error.
type Transaction struct {
	s   *Studio
	ops []op
}

type op struct {
	branch Branch
	path   kpath.Path
	value  any
	remove bool
}

// Set stages writing v at path in branch b. Missing record levels are
// created on commit.
func (tx *Transaction) Set(b Branch, path kpath.Path, v any) {
	tx.ops = append(tx.ops, op{branch: b, path: path.Append(), value: v})
}

// Remove stages removing the value at path in branch b. Removing a missing
// path does nothing.
func (tx *Transaction) Remove(b Branch, path kpath.Path) {
	tx.ops = append(tx.ops, op{branch: b, path: path.Append(), remove: true})
}

// Get returns the committed value at path in branch b, without tracking.
// Staged writes are not visible.
func (tx *Transaction) Get(b Branch, path kpath.Path) any {
	v, _ := dataverse.Resolve(tx.s.Pointer(b).Join(path))
	return v
}

// Len returns the number of staged writes.
func (tx *Transaction) Len() int {
	return len(tx.ops)
}

// Transaction runs fn and commits what it staged as one batch: dependents
// see either none or all of the writes. If fn fails, nothing is written.
// If a staged write fails, or the historic state no longer satisfies the
// studio schema, every branch is put back and the error is returned.
func (s *Studio) Transaction(fn func(tx *Transaction) error) error {
	if s.closed {
		return ErrClosed
	}
	if s.rt.Computing() {
		return ErrInComputation
	}

	tx := &Transaction{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		return nil
	}

	var err error
	s.rt.Batch(func() {
		err = tx.commit()
	})
	if err != nil {
		s.log.Error(err, "Transaction rolled back", "writes", len(tx.ops))
		return err
	}
	s.log.V(1).Info("Transaction committed", "writes", len(tx.ops))
	return nil
}

func (tx *Transaction) commit() error {
	prev := map[Branch]any{}
	rollback := func() {
		for b, v := range prev {
			tx.s.Atom(b).Set(v)
		}
	}

	for i, o := range tx.ops {
		a := tx.s.Atom(o.branch)
		if _, ok := prev[o.branch]; !ok {
			prev[o.branch] = a.Get()
		}

		var err error
		if o.remove {
			removeAt(a, o.path)
		} else {
			err = a.SetIn(o.path, o.value)
		}
		if err != nil {
			rollback()
			return fmt.Errorf("write %d (%s %s): %w", i, o.branch, o.path, err)
		}
	}

	if _, touched := prev[Historic]; touched && tx.s.schema != nil {
		if err := tx.s.schema.Validate(tx.s.Historic().Get()); err != nil {
			rollback()
			return err
		}
	}
	return nil
}

func removeAt(a *dataverse.Atom, path kpath.Path) {
	last, ok := path.Last()
	if !ok {
		a.Set(map[string]any{})
		return
	}
	if parent := a.ChildAt(path.Parent()); parent != nil {
		parent.Remove(last)
	}
}
