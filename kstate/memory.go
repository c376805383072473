package kstate

import (
	"context"
	"iter"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type memoryStore struct {
	name   string
	data   map[string][]byte
	closed bool
}

// NewMemoryStore returns a Store that keeps everything in memory.
func NewMemoryStore(name string) Store {
	return &memoryStore{name: name, data: map[string][]byte{}}
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Persistent() bool {
	return false
}

func (s *memoryStore) Flush(ctx context.Context) error {
	return nil
}

func (s *memoryStore) Close() error {
	s.closed = true
	s.data = nil
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if value == nil {
		delete(s.data, key)
		return nil
	}
	s.data[key] = slices.Clone(value)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	if s.closed {
		return ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *memoryStore) All(ctx context.Context) iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		keys := maps.Keys(s.data)
		slices.Sort(keys)
		for _, k := range keys {
			if ctx.Err() != nil {
				return
			}
			if !yield(k, slices.Clone(s.data[k])) {
				return
			}
		}
	}
}

var _ Store = (*memoryStore)(nil)
