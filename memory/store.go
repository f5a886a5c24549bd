// Package memory is the durable key-value layer under trust records and
// user notes. Keys are /-separated relative paths; values are raw bytes.
package memory

import "context"

// Store persists entries. Implementations perform I/O on every call and keep
// no cache of their own; see Cache for read-after-write visibility.
type Store interface {
	// List returns every key under prefix ("" lists all), sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Load retrieves entries for the given keys. A missing key is
	// ErrKeyNotFound.
	Load(ctx context.Context, keys ...string) ([]Entry, error)
	// Save creates or overwrites entries.
	Save(ctx context.Context, entries ...Entry) error
	// Delete removes entries. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
