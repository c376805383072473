package dataverse

import (
	"errors"
	"strings"
)

// Sentinel errors. Check them with errors.Is.
var (
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrDisposed         = errors.New("prism disposed")
	ErrFlushLimit       = errors.New("flush pass limit exceeded")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrInvalidWrite     = errors.New("invalid write")
)

// CyclicDependencyError is returned when a derivation or prism reads itself,
// directly or through other nodes, while it is computing. Path lists the
// nodes of the cycle, starting and ending with the node that was re-entered.
//
// The node that was re-entered stays broken: every later read returns the
// same error until it is recreated.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Path, " -> ")
}

// Is makes errors.Is(err, ErrCyclicDependency) match.
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}
