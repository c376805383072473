package dataverse

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestBatchCoalescesNotifications(t *testing.T) {
	obs := &countingObserver{}
	rt := newTestRuntime(t, WithObserver(obs))

	a, b := rt.Atom(1), rt.Atom(2)
	notified := 0
	p := rt.NewPrism(OnInvalidate(func() { notified++ }))
	_, err := p.Use(func(s *Scope) (any, error) {
		x, err := Val[int](s.Tracker, a)
		if err != nil {
			return nil, err
		}
		y, err := Val[int](s.Tracker, b)
		return x + y, err
	})
	assert.NoError(t, err)

	flushes := obs.flushes
	rt.Batch(func() {
		a.Set(10)
		rt.Batch(func() {
			b.Set(20)
		})
		assert.True(t, rt.Batching())
		assert.Equal(t, 0, notified)
		assert.Equal(t, 20, b.Get())
	})

	assert.Equal(t, 1, notified)
	assert.Equal(t, flushes+1, obs.flushes)
	assert.False(t, rt.Batching())
}

func TestBatchDefersInvalidation(t *testing.T) {
	rt := newTestRuntime(t)

	a := rt.Atom(1)
	d := Map1(rt, a, func(v any) (any, error) { return v, nil })
	notified := 0
	p := rt.NewPrism(OnInvalidate(func() { notified++ }))
	_, err := p.Use(func(s *Scope) (any, error) { return s.Read(d) })
	assert.NoError(t, err)
	assert.Equal(t, Clean, d.State())

	rt.Batch(func() {
		a.Set(2)
		assert.Equal(t, Dirty, d.State())
		v, err := Resolve(d)
		assert.NoError(t, err)
		assert.Equal(t, any(2), v)
		assert.Equal(t, 0, notified)
	})
	assert.Equal(t, 1, notified)
	assert.Equal(t, Dirty, d.State())
}

func TestBatchReadsOwnWritesThroughPointers(t *testing.T) {
	rt := newTestRuntime(t)

	rec := rt.RecordAtom(map[string]any{"count": 0})
	count := rec.Pointer().Field("count")
	notified := 0
	p := rt.NewPrism(OnInvalidate(func() { notified++ }))
	_, err := p.Use(func(s *Scope) (any, error) { return s.Read(count) })
	assert.NoError(t, err)

	rt.Batch(func() {
		rec.Set(map[string]any{"count": 5})

		v, err := Resolve(count)
		assert.NoError(t, err)
		assert.Equal(t, any(5), v)

		v, err = p.Use(func(s *Scope) (any, error) { return s.Read(count) })
		assert.NoError(t, err)
		assert.Equal(t, any(5), v)
		assert.Equal(t, 0, notified)
	})
	assert.Equal(t, 1, notified)

	v, err := Resolve(count)
	assert.NoError(t, err)
	assert.Equal(t, any(5), v)
}

func TestAfterBatch(t *testing.T) {
	rt := newTestRuntime(t)

	var order []string
	rt.AfterBatch(func() { order = append(order, "immediate") })

	a := rt.Atom(1)
	rt.Batch(func() {
		rt.AfterBatch(func() {
			order = append(order, "after")
			assert.False(t, rt.Computing())
		})
		a.Set(2)
		order = append(order, "inside")
	})

	assert.Equal(t, []string{"immediate", "inside", "after"}, order)
}

func TestAfterBatchWritesFlushInAnotherPass(t *testing.T) {
	obs := &countingObserver{}
	rt := newTestRuntime(t, WithObserver(obs))

	a, b := rt.Atom(1), rt.Atom(0)
	p := rt.NewPrism()
	render := func(s *Scope) (any, error) { return s.Read(b) }
	_, err := p.Use(render)
	assert.NoError(t, err)

	rt.Batch(func() {
		a.Set(2)
		rt.AfterBatch(func() { b.Set(a.Get()) })
	})

	v, err := p.Use(render)
	assert.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, obs.flushes)
}

func TestFlushLimit(t *testing.T) {
	rt := newTestRuntime(t, WithMaxFlushPasses(5))

	a := rt.Atom(0)
	var loop func()
	loop = func() {
		a.Reduce(func(old any) any { return old.(int) + 1 })
		rt.AfterBatch(loop)
	}
	rt.Batch(func() {
		rt.AfterBatch(loop)
	})

	assert.Equal(t, 5, a.Get())
	assert.False(t, rt.pending())
	assert.False(t, rt.Batching())

	a.Set(100)
	assert.Equal(t, 100, a.Get())
}

func TestInvalidationFollowsDependencyOrder(t *testing.T) {
	obs := &countingObserver{}
	rt := newTestRuntime(t, WithObserver(obs))

	a := rt.Atom(1)
	b := Map1(rt, a, func(v any) (any, error) { return v.(int) + 1, nil })
	c := rt.Map(func(tr *Tracker) (any, error) {
		x, err := Val[int](tr, a)
		if err != nil {
			return nil, err
		}
		y, err := Val[int](tr, b)
		return x * y, err
	})
	p := rt.NewPrism()
	render := func(s *Scope) (any, error) { return s.Read(c) }
	_, err := p.Use(render)
	assert.NoError(t, err)

	before := obs.invalidated
	a.Set(3)
	assert.Equal(t, 3, obs.invalidated-before)
	assert.Equal(t, Dirty, b.State())
	assert.Equal(t, Dirty, c.State())

	v, err := p.Use(render)
	assert.NoError(t, err)
	assert.Equal(t, 12, v)
	assert.Equal(t, 2, computations(c))
}
