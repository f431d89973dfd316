package cache

import (
	"context"
	"time"
)

// Backend is the key-value store contract the monitoring subsystem consumes.
// Business handlers decide what to cache; this layer only measures and
// invalidates through these five operations.
type Backend interface {
	// Name identifies the backend implementation, e.g. "memory" or "valkey".
	// The effectiveness analyzer uses it to flag non-production backends.
	Name() string

	// Get returns the value for key. The second result is false when the key
	// is absent or expired; that is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every entry. Reserved for explicit administrative use;
	// nothing in this subsystem calls it implicitly.
	Clear(ctx context.Context) error
}
