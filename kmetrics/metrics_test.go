package kmetrics

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/jo-chemla/theatre/dataverse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorObservesRuntime(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	rt := dataverse.NewRuntime(dataverse.WithObserver(c))

	a := rt.Atom(1)
	boom := errors.New("boom")
	failing := rt.Map(func(tr *dataverse.Tracker) (any, error) { return nil, boom })
	_, err := dataverse.Resolve(failing)
	assert.True(t, errors.Is(err, boom))

	mirror := rt.Atom(0)
	p := rt.NewPrism()
	render := func(s *dataverse.Scope) (any, error) {
		v, err := s.Read(a)
		mirror.Set(v)
		return v, err
	}
	_, err = p.Use(render)
	assert.NoError(t, err)
	_, err = p.Use(render)
	assert.NoError(t, err)

	a.Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Computations.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Computations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PrismUses.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PrismUses.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DeferredWrites))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Flushes))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ChangedAtoms))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Invalidations))

	n, err := testutil.GatherAndCount(reg, "theatre_dataverse_compute_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewWithoutRegistry(t *testing.T) {
	c := New(nil)
	c.WriteDeferred()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DeferredWrites))
}
