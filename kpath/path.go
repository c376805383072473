// Package kpath describes paths into nested state trees.
//
// A Path is an ordered sequence of segments, each either a record key or a
// sequence index. Paths are immutable values: every method that extends a
// path returns a copy, so paths can be shared and used as cache keys through
// their String form.
package kpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned when a path expression cannot be expressed as
// a sequence of keys and indexes.
var ErrInvalidPath = errors.New("invalid path")

// Segment is a single step of a Path.
type Segment struct {
	key     string
	index   int
	isIndex bool
}

// Key returns a segment addressing a record field.
func Key(name string) Segment {
	return Segment{key: name}
}

// Index returns a segment addressing a sequence element.
func Index(i int) Segment {
	return Segment{index: i, isIndex: true}
}

// IsIndex reports whether the segment addresses a sequence element.
func (s Segment) IsIndex() bool { return s.isIndex }

// Key returns the record key. It is empty for index segments.
func (s Segment) Key() string { return s.key }

// Index returns the sequence index. It is zero for key segments.
func (s Segment) Index() int { return s.index }

// String renders the segment the way it appears inside Path.String.
func (s Segment) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	if isIdent(s.key) {
		return "." + s.key
	}
	return "[" + strconv.Quote(s.key) + "]"
}

// Path is an ordered sequence of segments.
type Path []Segment

// Of builds a path from keys (string) and indexes (int). It panics on any
// other element type.
func Of(elems ...any) Path {
	p := make(Path, 0, len(elems))
	for _, e := range elems {
		switch v := e.(type) {
		case string:
			p = append(p, Key(v))
		case int:
			p = append(p, Index(v))
		case Segment:
			p = append(p, v)
		default:
			panic(fmt.Sprintf("kpath: unsupported path element %T", e))
		}
	}
	return p
}

// Append returns a new path with segs added. The receiver is not modified.
func (p Path) Append(segs ...Segment) Path {
	out := make(Path, len(p), len(p)+len(segs))
	copy(out, p)
	return append(out, segs...)
}

// Parent returns the path without its last segment. The parent of the empty
// path is the empty path.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the final segment.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders an unambiguous JSONPath-like form, e.g. `$.a[2]["b c"]`.
// Two paths are Equal exactly when their String forms are equal.
func (p Path) String() string {
	var sb strings.Builder
	sb.WriteByte('$')
	for _, s := range p {
		sb.WriteString(s.String())
	}
	return sb.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
