package dataverse

import (
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
)

type countingObserver struct {
	computed    int
	failed      int
	hits        int
	misses      int
	flushes     int
	invalidated int
	deferred    int
}

func (o *countingObserver) Computed(_ string, _ time.Duration, err error) {
	o.computed++
	if err != nil {
		o.failed++
	}
}

func (o *countingObserver) PrismEvaluated(_ string, hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) Flushed(_, invalidated int) {
	o.flushes++
	o.invalidated += invalidated
}

func (o *countingObserver) WriteDeferred() {
	o.deferred++
}

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogr(testr.New(t))}, opts...)
	return NewRuntime(opts...)
}

func computations(d Derivation) int {
	return d.(*derivation).Computations()
}

func mustResolve(t *testing.T, r Readable) any {
	t.Helper()
	v, err := Resolve(r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return v
}
