package dataverse

import (
	"reflect"

	"github.com/jo-chemla/theatre/kpath"
)

// extract returns the child of v addressed by seg, or nil when v has no
// such child. It never fails: missing keys, out-of-range indexes, unexported
// fields and scalar parents all yield nil.
func extract(v any, seg kpath.Segment) any {
	switch c := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if seg.IsIndex() {
			return nil
		}
		return c[seg.Key()]
	case []any:
		if !seg.IsIndex() || seg.Index() < 0 || seg.Index() >= len(c) {
			return nil
		}
		return c[seg.Index()]
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if seg.IsIndex() || rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		got := rv.MapIndex(reflect.ValueOf(seg.Key()).Convert(rv.Type().Key()))
		if !got.IsValid() {
			return nil
		}
		return got.Interface()
	case reflect.Slice, reflect.Array:
		if !seg.IsIndex() || seg.Index() < 0 || seg.Index() >= rv.Len() {
			return nil
		}
		return rv.Index(seg.Index()).Interface()
	case reflect.Struct:
		if seg.IsIndex() {
			return nil
		}
		f, ok := rv.Type().FieldByName(seg.Key())
		if !ok || !f.IsExported() {
			return nil
		}
		fv, err := rv.FieldByIndexErr(f.Index)
		if err != nil {
			return nil
		}
		return fv.Interface()
	}
	return nil
}
