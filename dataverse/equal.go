package dataverse

import (
	"reflect"
)

// Identical is the default equality used for change detection. Maps,
// pointers and channels compare by reference, slices by backing array and
// length, functions never compare equal, and everything else with ==
// (falling back to reflect.DeepEqual for values that cannot be compared).
//
// Atom snapshots are shared between versions for unchanged subtrees, so
// reference equality is enough to detect that a subtree did not change.
func Identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Func:
		return false
	}

	if !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return comparableEqual(a, b)
}

// comparableEqual compares with == and recovers from the runtime panic
// raised by interface fields holding incomparable values.
func comparableEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}

// DeepEqual is an equality for derivations whose results are rebuilt on
// every compute.
func DeepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
