package dataverse

import "fmt"

// Resolve returns the current value of r without recording a dependency
// anywhere. Pointers over missing paths resolve to nil.
func Resolve(r Readable) (any, error) {
	return r.Read(nil)
}

// Val reads r through tr and asserts the result to T. A nil value yields
// the zero T. Any other value of the wrong type is ErrTypeMismatch.
func Val[T any](tr *Tracker, r Readable) (T, error) {
	var zero T
	v, err := r.Read(tr)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", ErrTypeMismatch, zero, v)
	}
	return t, nil
}
