package kpath

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Parse converts a JSONPath expression such as `$.byId["v1"].position.x`,
// `list[2]` or `a.b` into a Path. Only child and index selectors are
// accepted; wildcards, filters, slices and descent return ErrInvalidPath.
func Parse(expr string) (Path, error) {
	if expr == "" || expr == "$" {
		return Path{}, nil
	}

	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, expr, err)
	}

	p := make(Path, 0, len(x))
	for _, frag := range x {
		switch f := frag.(type) {
		case jp.Root, jp.At, jp.Bracket:
			// Markers only, they carry no segment.
		case jp.Child:
			p = append(p, Key(string(f)))
		case jp.Nth:
			if f < 0 {
				return nil, fmt.Errorf("%w: %q: negative index %d", ErrInvalidPath, expr, int(f))
			}
			p = append(p, Index(int(f)))
		default:
			return nil, fmt.Errorf("%w: %q: unsupported selector %T", ErrInvalidPath, expr, frag)
		}
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}
