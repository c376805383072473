package kstate

import (
	"context"
	"fmt"

	"github.com/jo-chemla/theatre/kserde"
	"go.uber.org/multierr"
)

// Snapshots saves and loads whole state trees in a Store.
type Snapshots struct {
	store  Store
	serde  kserde.Serde[any]
	schema *Schema
}

type SnapshotOption func(*Snapshots)

// WithSerde sets the format snapshots are stored in. Defaults to
// kserde.TreeJSON.
var WithSerde = func(serde kserde.Serde[any]) SnapshotOption {
	return func(s *Snapshots) {
		s.serde = serde
	}
}

// WithSchema validates trees on save and on load.
var WithSchema = func(schema *Schema) SnapshotOption {
	return func(s *Snapshots) {
		s.schema = schema
	}
}

func NewSnapshots(store Store, opts ...SnapshotOption) *Snapshots {
	s := &Snapshots{
		store: store,
		serde: kserde.TreeJSON(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Snapshots) Store() Store {
	return s.store
}

// Save validates and stores tree under key.
func (s *Snapshots) Save(ctx context.Context, key string, tree any) error {
	if s.schema != nil {
		if err := s.schema.Validate(tree); err != nil {
			return fmt.Errorf("snapshot %q: %w", key, err)
		}
	}
	b, err := s.serde.Serializer(tree)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot %q: %w", key, err)
	}
	return s.store.Set(ctx, key, b)
}

// Load reads the tree stored under key and validates it.
func (s *Snapshots) Load(ctx context.Context, key string) (any, error) {
	b, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", key, err)
	}
	tree, err := s.serde.Deserializer(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize snapshot %q: %w", key, err)
	}
	if s.schema != nil {
		if err := s.schema.Validate(tree); err != nil {
			return nil, fmt.Errorf("snapshot %q: %w", key, err)
		}
	}
	return tree, nil
}

// Keys lists the stored snapshots in key order.
func (s *Snapshots) Keys(ctx context.Context) []string {
	var keys []string
	for k := range s.store.All(ctx) {
		keys = append(keys, k)
	}
	return keys
}

// Close flushes and closes the store.
func (s *Snapshots) Close(ctx context.Context) error {
	return multierr.Combine(s.store.Flush(ctx), s.store.Close())
}
