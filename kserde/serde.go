// Package kserde converts values crossing the persistence boundary of a
// studio: snapshots of atom trees, config files and CLI state files.
package kserde

// Serde pairs a serializer with the matching deserializer.
type Serde[T any] struct {
	Serializer   Serializer[T]
	Deserializer Deserializer[T]
}

type Serializer[T any] func(T) ([]byte, error)

type Deserializer[T any] func([]byte) (T, error)

// RoundTrip serializes v and deserializes the result. It is how values are
// deep-copied through a format.
func (s Serde[T]) RoundTrip(v T) (T, error) {
	b, err := s.Serializer(v)
	if err != nil {
		return *new(T), err
	}
	return s.Deserializer(b)
}
