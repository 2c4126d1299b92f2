// Package store provides durable key/value storage for queue items and
// cache entries. Writes are crash-consistent at single-key granularity;
// the engine persists every mutation through this interface before the
// in-memory change is considered final.
package store

import "github.com/tablekit/ordersync/internal/errors"

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New(errors.ErrNotFound, "key not found")

// errWriteFailed is returned by MemoryStore when failure injection is on.
var errWriteFailed = errors.New(errors.ErrStorage, "write failed")

// Store is the persistence contract consumed by the queue and cache.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, overwriting any previous value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns all key/value pairs whose key starts with prefix.
	List(prefix string) (map[string][]byte, error)

	// Close releases underlying resources.
	Close() error
}
