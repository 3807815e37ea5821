// Package store provides the durable record store the engine persists
// cache entries, pipeline state, and checkpoints into.
//
// The default implementation (FileStore) keeps one file per key under a
// directory. A MemoryStore is provided for unit tests.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// ErrQuotaExceeded is returned when a write would exceed the store's
// configured byte budget. Callers are expected to shrink the payload
// and retry rather than treat this as fatal.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// RecordStore abstracts durable key/value persistence.
//
// All operations take a context so callers can bound them; the file
// implementation ignores deadlines for individual operations but checks
// cancellation before touching disk.
type RecordStore interface {
	// Get returns the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, overwriting any existing value.
	// Returns ErrQuotaExceeded when the write would exceed the budget.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the value for key. Removing an absent key is not
	// an error.
	Remove(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// IsQuota reports whether err is (or wraps) a quota failure.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
