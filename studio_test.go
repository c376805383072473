package theatre

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/go-logr/logr/testr"
	"github.com/jo-chemla/theatre/dataverse"
	"github.com/jo-chemla/theatre/kpath"
	"github.com/jo-chemla/theatre/kstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const positionSchema = `{
	"type": "object",
	"properties": {
		"box": {
			"type": "object",
			"properties": {"x": {"type": "number", "minimum": 0}}
		}
	}
}`

func newTestStudio(t *testing.T, opts ...Option) *Studio {
	t.Helper()
	s := New(append([]Option{WithLogr(testr.New(t))}, opts...)...)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s
}

func TestBranchesAreIndependent(t *testing.T) {
	s := newTestStudio(t)

	assert.NoError(t, s.Historic().SetIn(kpath.Of("box", "x"), 1))
	assert.NoError(t, s.Ephemeral().SetIn(kpath.Of("hover"), "box"))

	x, err := dataverse.Resolve(s.Pointer(Historic).Field("box").Field("x"))
	assert.NoError(t, err)
	assert.Equal(t, any(1), x)
	assert.Equal(t, any(map[string]any{}), s.Ahistoric().Get())
	assert.Equal(t, any(map[string]any{"hover": "box"}), s.Ephemeral().Get())
	assert.Equal(t, "ahistoric", Ahistoric.String())
	assert.Equal(t, "Branch(7)", Branch(7).String())
}

func TestTransactionCommitsAsOneBatch(t *testing.T) {
	s := newTestStudio(t)
	rt := s.Runtime()

	keyframes := s.Pointer(Historic).Field("tracks").Field("x")
	count := rt.Map(func(tr *dataverse.Tracker) (any, error) {
		v, err := tr.Read(keyframes)
		if err != nil {
			return nil, err
		}
		seq, _ := v.([]any)
		return len(seq), nil
	})

	invalidations := 0
	p := s.Prism(dataverse.OnInvalidate(func() { invalidations++ }))
	render := func(sc *dataverse.Scope) (any, error) { return sc.Read(count) }
	v, err := p.Use(render)
	assert.NoError(t, err)
	assert.Equal(t, any(0), v)

	err = s.Transaction(func(tx *Transaction) error {
		tx.Set(Historic, kpath.Of("tracks", "x"), []any{})
		for i, kf := range []float64{0, 0.5, 1} {
			tx.Set(Historic, kpath.Of("tracks", "x", i), map[string]any{"t": kf})
		}
		assert.Equal(t, 4, tx.Len())
		assert.Zero(t, tx.Get(Historic, kpath.Of("tracks")))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, invalidations)

	v, err = p.Use(render)
	assert.NoError(t, err)
	assert.Equal(t, any(3), v)
}

func TestTransactionFunctionErrorWritesNothing(t *testing.T) {
	s := newTestStudio(t)
	boom := errors.New("boom")

	err := s.Transaction(func(tx *Transaction) error {
		tx.Set(Historic, kpath.Of("a"), 1)
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, any(map[string]any{}), s.Historic().Get())
}

func TestTransactionRollsBackOnFailedWrite(t *testing.T) {
	s := newTestStudio(t)
	assert.NoError(t, s.Historic().SetIn(kpath.Of("name"), "scene"))
	assert.NoError(t, s.Ahistoric().SetIn(kpath.Of("panel"), "left"))

	err := s.Transaction(func(tx *Transaction) error {
		tx.Set(Ahistoric, kpath.Of("panel"), "right")
		tx.Set(Historic, kpath.Of("name"), "renamed")
		// a scalar cannot be descended into
		tx.Set(Historic, kpath.Of("name", "first"), "x")
		return nil
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "write 2")
	assert.Equal(t, any(map[string]any{"name": "scene"}), s.Historic().Get())
	assert.Equal(t, any(map[string]any{"panel": "left"}), s.Ahistoric().Get())
}

func TestTransactionRollsBackOnSchemaViolation(t *testing.T) {
	schema, err := kstate.CompileSchema([]byte(positionSchema))
	assert.NoError(t, err)
	s := newTestStudio(t, WithSchema(schema))

	assert.NoError(t, s.Transaction(func(tx *Transaction) error {
		tx.Set(Historic, kpath.Of("box", "x"), 10)
		return nil
	}))

	err = s.Transaction(func(tx *Transaction) error {
		tx.Set(Historic, kpath.Of("box", "x"), -1)
		return nil
	})
	assert.True(t, errors.Is(err, kstate.ErrSchemaViolation))
	assert.Equal(t, any(map[string]any{"box": map[string]any{"x": 10}}), s.Historic().Get())
}

func TestTransactionRemove(t *testing.T) {
	s := newTestStudio(t)
	s.Historic().Set(map[string]any{"a": 1, "b": []any{"x", "y", "z"}})

	assert.NoError(t, s.Transaction(func(tx *Transaction) error {
		tx.Remove(Historic, kpath.Of("a"))
		tx.Remove(Historic, kpath.Of("b", 0))
		tx.Remove(Historic, kpath.Of("missing", "deep"))
		return nil
	}))
	assert.Equal(t, any(map[string]any{"b": []any{"y", "z"}}), s.Historic().Get())

	assert.NoError(t, s.Transaction(func(tx *Transaction) error {
		tx.Remove(Historic, nil)
		return nil
	}))
	assert.Equal(t, any(map[string]any{}), s.Historic().Get())
}

func TestTransactionInsideComputation(t *testing.T) {
	s := newTestStudio(t)

	var inner error
	d := s.Runtime().Map(func(tr *dataverse.Tracker) (any, error) {
		inner = s.Transaction(func(tx *Transaction) error { return nil })
		return nil, nil
	})
	_, err := dataverse.Resolve(d)
	assert.NoError(t, err)
	assert.True(t, errors.Is(inner, ErrInComputation))
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStudio(t)

	s.Historic().Set(map[string]any{"box": map[string]any{"x": 1, "y": 2.5}})
	s.Ahistoric().Set(map[string]any{"panel": "left"})
	s.Ephemeral().Set(map[string]any{"hover": true})
	assert.NoError(t, s.Snapshot(ctx, "one"))

	box := s.Historic().ChildAt(kpath.Of("box"))
	y := s.Pointer(Historic).Field("box").Field("y")
	reads := 0
	d := s.Runtime().Map(func(tr *dataverse.Tracker) (any, error) {
		reads++
		return tr.Read(y)
	})
	p := s.Prism()
	_, err := p.Use(func(sc *dataverse.Scope) (any, error) { return sc.Read(d) })
	assert.NoError(t, err)

	assert.NoError(t, s.Historic().SetIn(kpath.Of("box", "x"), 5))
	s.Ahistoric().Set(map[string]any{})
	assert.NoError(t, s.Restore(ctx, "one"))

	assert.Equal(t, any(map[string]any{"box": map[string]any{"x": 1, "y": 2.5}}), s.Historic().Get())
	assert.Equal(t, any(map[string]any{"panel": "left"}), s.Ahistoric().Get())
	assert.Equal(t, any(map[string]any{"hover": true}), s.Ephemeral().Get())
	assert.True(t, box == s.Historic().ChildAt(kpath.Of("box")))
	assert.Equal(t, 1, reads)

	assert.Equal(t, []string{"one"}, s.Snapshots(ctx))
	err = s.Restore(ctx, "two")
	assert.True(t, errors.Is(err, kstate.ErrNotFound))
}

func TestRestoreRejectsInvalidSnapshot(t *testing.T) {
	ctx := context.Background()
	store := kstate.NewMemoryStore("snapshots")
	assert.NoError(t, store.Set(ctx, "bad", []byte(`{"historic": {"box": {"x": -3}}}`)))
	assert.NoError(t, store.Set(ctx, "list", []byte(`[1, 2]`)))

	schema, err := kstate.CompileSchema([]byte(positionSchema))
	assert.NoError(t, err)
	s := newTestStudio(t, WithStore(store), WithSchema(schema))

	err = s.Restore(ctx, "bad")
	assert.True(t, errors.Is(err, kstate.ErrSchemaViolation))
	assert.Equal(t, any(map[string]any{}), s.Historic().Get())

	err = s.Restore(ctx, "list")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected snapshot")
}

func TestCloseDisposesPrisms(t *testing.T) {
	s := New()
	var order []string
	for _, name := range []string{"first", "second"} {
		p := s.Prism(dataverse.PrismName(name))
		_, err := p.Use(func(sc *dataverse.Scope) (any, error) {
			sc.OnCleanup(func() error {
				order = append(order, name)
				return nil
			})
			return nil, nil
		})
		assert.NoError(t, err)
	}

	assert.NoError(t, s.Close())
	assert.Equal(t, []string{"second", "first"}, order)
	assert.True(t, s.Historic().Destroyed())
	assert.NoError(t, s.Close())

	assert.True(t, errors.Is(s.Snapshot(context.Background(), "k"), ErrClosed))
	assert.True(t, errors.Is(s.Transaction(func(*Transaction) error { return nil }), ErrClosed))
}

func TestWithLogBridgesSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(WithLog(logger))

	assert.NoError(t, s.Transaction(func(tx *Transaction) error {
		tx.Set(Historic, kpath.Of("a"), 1)
		return nil
	}))
	assert.NoError(t, s.Close())
	assert.Contains(t, buf.String(), "Transaction committed")
}

func TestStudioMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestStudio(t, WithRegisterer(reg))

	assert.NoError(t, s.Transaction(func(tx *Transaction) error {
		tx.Set(Historic, kpath.Of("a"), 1)
		tx.Set(Ahistoric, kpath.Of("b"), 2)
		return nil
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().Flushes))

	assert.Zero(t, New().Metrics())
}
