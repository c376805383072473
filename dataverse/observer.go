package dataverse

import "time"

// Observer is told about the work a Runtime does. Implementations must be
// cheap; they run inline on the engine goroutine.
type Observer interface {
	// Computed is called after every derivation compute.
	Computed(name string, elapsed time.Duration, err error)
	// PrismEvaluated is called for every Use of a prism. hit is true when
	// the cached result was returned without running the prism function.
	PrismEvaluated(name string, hit bool)
	// Flushed is called after every flush pass.
	Flushed(changed, invalidated int)
	// WriteDeferred is called when a write is queued because a computation
	// is running.
	WriteDeferred()
}

type nopObserver struct{}

func (nopObserver) Computed(string, time.Duration, error) {}
func (nopObserver) PrismEvaluated(string, bool) {}
func (nopObserver) Flushed(int, int) {}
func (nopObserver) WriteDeferred() {}
