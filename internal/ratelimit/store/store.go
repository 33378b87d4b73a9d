// Package store provides shared counter storage backends for rate limiting.
// All service instances coordinate through a single Store; the limiters
// themselves hold no counter state.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when the shared counter store cannot be
// reached or does not produce a valid response. It is never coerced into an
// allow or deny decision; fail-open vs fail-closed policy belongs to the
// caller.
var ErrStoreUnavailable = errors.New("shared counter store unavailable")

// IsUnavailable returns true if the error indicates a store communication
// failure, including timeouts after an increment may already have been
// applied remotely.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Store defines the interface for shared counter storage.
//
// Every method performs a single remote operation and mutates or reads
// remote state; no counts are cached locally. IncrementAndGet and
// SetExpiryIfUnset must be atomic as seen by all concurrent callers across
// all service instances.
type Store interface {
	// IncrementAndGet atomically increments the counter at key, creating it
	// at 0 first if absent, and returns the new value.
	IncrementAndGet(ctx context.Context, key string) (int64, error)

	// SetExpiryIfUnset sets a time-to-live on key only if none is currently
	// set, and reports whether it set one. Calling it again on the same key
	// never extends the existing deadline.
	SetExpiryIfUnset(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TimeToLive returns the remaining lifetime of key. ok is false when the
	// key does not exist or carries no expiry.
	TimeToLive(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// Close closes the store and releases resources.
	Close() error
}

// LogStore is implemented by stores that can maintain a per-key log of
// request timestamps, used by the sliding log strategy. The log is pruned,
// appended to, and counted in one atomic step; throttled requests are
// appended too, so abusive traffic keeps its own window busy.
type LogStore interface {
	Store

	// AppendAndCount atomically drops log entries older than now-window,
	// appends one entry at now, refreshes the key's expiry to window, and
	// returns the resulting entry count together with the timestamp of the
	// oldest surviving entry.
	AppendAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, oldest time.Time, err error)
}

// AtomicStore is implemented by stores that can increment a counter,
// establish the window expiry on the 0->1 transition, and read the
// remaining lifetime in one server-side atomic step. Limiters prefer this
// over the three separate primitives: it keeps a check to one round trip
// and leaves no window for the key to expire between increment and
// expiry-set.
type AtomicStore interface {
	Store

	// IncrementWithExpiry atomically increments the counter at key, sets ttl
	// only when this call created the entry, and returns the new count
	// together with the entry's remaining lifetime.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (count int64, remaining time.Duration, err error)
}
