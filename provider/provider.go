// Package provider defines the key-value store abstraction every cachegraph
// component goes through.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key.
//
// Important: the keyspace "lock:" is owned by the lock manager. Cache keys
// must never start with it, and invalidation never produces a pattern that
// could match it.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned while the store is known to be down (circuit
// open, connect failed). Callers degrade to their safe default.
var ErrUnavailable = errors.New("provider: store unavailable")

// Provider is the set of primitives the cache layer needs from a
// Redis-compatible store. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX atomically stores value only if key does not exist, with expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete atomically deletes key only if it holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// Scan runs one cursor round over keys matching the glob pattern.
	// A returned cursor of 0 ends the iteration.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)

	// Del removes keys as one pipelined batch and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Ping checks connectivity, connecting first if needed.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}
