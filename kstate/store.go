// Package kstate stores snapshots of state trees outside of a runtime.
//
// A Store is a small byte-oriented key/value interface with a memory and a
// file implementation. Snapshots layers a serde and an optional JSON schema
// on top of it.
package kstate

import (
	"context"
	"errors"
	"iter"
)

var (
	ErrNotFound        = errors.New("store: key not found")
	ErrSchemaViolation = errors.New("store: schema violation")
	ErrClosed          = errors.New("store: closed")
)

// Store is the byte-oriented interface snapshot backends implement.
type Store interface {
	// Name returns the store name
	Name() string

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A nil value deletes the key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// All iterates over all entries in key order.
	All(ctx context.Context) iter.Seq2[string, []byte]

	// Flush persists any buffered data
	Flush(ctx context.Context) error

	// Close closes the store
	Close() error

	// Persistent returns true if the store survives the process.
	Persistent() bool
}
