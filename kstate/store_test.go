package kstate

import (
	"context"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/jo-chemla/theatre/kserde"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), "snapshots")
	assert.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore("snapshots"),
		"file":   fs,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, "snapshots", store.Name())
			assert.Equal(t, name == "file", store.Persistent())

			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			assert.NoError(t, store.Set(ctx, "b", []byte("2")))
			assert.NoError(t, store.Set(ctx, "a/with spaces", []byte("1")))
			assert.NoError(t, store.Set(ctx, "c", []byte("3")))

			v, err := store.Get(ctx, "a/with spaces")
			assert.NoError(t, err)
			assert.Equal(t, "1", string(v))

			assert.NoError(t, store.Set(ctx, "c", nil))
			assert.NoError(t, store.Delete(ctx, "missing"))

			var keys []string
			for k, v := range store.All(ctx) {
				keys = append(keys, k+"="+string(v))
			}
			assert.Equal(t, []string{"a/with spaces=1", "b=2"}, keys)

			assert.NoError(t, store.Flush(ctx))
			assert.NoError(t, store.Close())
			_, err = store.Get(ctx, "b")
			assert.True(t, errors.Is(err, ErrClosed))
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir, "project")
	assert.NoError(t, err)
	assert.NoError(t, first.Set(ctx, "historic", []byte(`{"x":1}`)))
	assert.NoError(t, first.Close())

	second, err := NewFileStore(dir, "project")
	assert.NoError(t, err)
	v, err := second.Get(ctx, "historic")
	assert.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(v))
}

const keyframeSchema = `{
	"type": "object",
	"required": ["position"],
	"properties": {
		"position": {"type": "number", "minimum": 0},
		"value": {"type": "string"}
	}
}`

func TestSnapshots(t *testing.T) {
	ctx := context.Background()

	schema, err := CompileSchema([]byte(keyframeSchema))
	assert.NoError(t, err)
	snaps := NewSnapshots(NewMemoryStore("kf"), WithSchema(schema))

	tree := map[string]any{"position": 2, "value": "ease"}
	assert.NoError(t, snaps.Save(ctx, "kf-1", tree))

	got, err := snaps.Load(ctx, "kf-1")
	assert.NoError(t, err)
	assert.Equal(t, any(tree), got)
	assert.Equal(t, []string{"kf-1"}, snaps.Keys(ctx))

	err = snaps.Save(ctx, "bad", map[string]any{"position": -1, "value": 3})
	assert.True(t, errors.Is(err, ErrSchemaViolation))
	assert.Contains(t, err.Error(), "position")
	assert.Contains(t, err.Error(), "value")
	assert.Equal(t, 2, len(Violations(err)))
	assert.Zero(t, Violations(errors.New("unrelated")))

	_, err = snaps.Load(ctx, "bad")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, snaps.Store().Set(ctx, "tampered", []byte(`{"value": "x"}`)))
	_, err = snaps.Load(ctx, "tampered")
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	assert.NoError(t, snaps.Close(ctx))
}

func TestSnapshotsYAML(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore("yaml")
	snaps := NewSnapshots(store, WithSerde(kserde.TreeYAML()))
	assert.NoError(t, snaps.Save(ctx, "state", map[string]any{"list": []any{1, "two"}}))

	raw, err := store.Get(ctx, "state")
	assert.NoError(t, err)
	assert.Contains(t, string(raw), "list:")

	got, err := snaps.Load(ctx, "state")
	assert.NoError(t, err)
	assert.Equal(t, any(map[string]any{"list": []any{1, "two"}}), got)
}

func TestCompileSchemaError(t *testing.T) {
	_, err := CompileSchema([]byte(`{"type": 12}`))
	assert.Error(t, err)
}
