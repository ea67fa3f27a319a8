// Package cache stores prior API responses keyed by request, with per-entry
// TTL and an optional validator token for conditional refetches.
// Implementations may use in-memory maps (default), Redis, or a tiered
// combination of both. A miss is reported with ErrNotFound, never with a
// nil entry and nil error.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Entry is one cached response. Data is the raw response body; Validator is
// the opaque token (typically an ETag) used for conditional refetches.
type Entry struct {
	Data      []byte        `json:"data"`
	Status    int           `json:"status"`
	Validator string        `json:"validator,omitempty"`
	StoredAt  time.Time     `json:"stored_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL. A zero TTL never
// expires.
func (e *Entry) Expired() bool {
	return e.TTL > 0 && time.Since(e.StoredAt) > e.TTL
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// Cache abstracts a response cache with TTL support.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the entry for key.
	// Returns ErrNotFound if the key does not exist or has expired;
	// expired entries are removed as a side effect of the read.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry under key. The entry's StoredAt is stamped by
	// the implementation. Storing may evict the oldest entries when the
	// implementation is at capacity.
	Set(ctx context.Context, key string, e *Entry) error

	// Touch re-stamps StoredAt on an existing entry, giving it a fresh
	// TTL without replacing its data. Used after a 304 Not Modified.
	// Returns ErrNotFound if the key is absent or expired.
	Touch(ctx context.Context, key string) error

	// Delete removes a key. It is not an error to delete a key that
	// does not exist.
	Delete(ctx context.Context, key string) error

	// Invalidate deletes every key containing pattern as a substring
	// and returns the number of keys removed.
	Invalidate(ctx context.Context, pattern string) (int, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Ping verifies connectivity to the underlying cache backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the cache implementation.
	Close() error
}
