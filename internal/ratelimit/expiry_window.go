package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/ratelimit/store"
)

// ExpiryWindowLimiter counts requests per origin within a window anchored
// to that origin's own first observed request rather than to a global clock
// boundary. The counter is created lazily on the first request and
// self-expires a full window later, so no origin can be admitted more than
// MaxRequests times in any rolling window measured from its first request
// of the cycle. This closes the fixed-window boundary flaw.
//
// Trade-off: once an origin exhausts its quota it waits out the entire
// remaining window before the counter resets, rather than regaining one
// slot per elapsed sub-interval as a token-bucket refill would allow.
type ExpiryWindowLimiter struct {
	store  store.Store
	quota  Quota
	logger *zap.Logger
}

// NewExpiryWindowLimiter creates a sliding/expiry window limiter. The quota
// is validated eagerly; an invalid quota never reaches Check.
func NewExpiryWindowLimiter(s store.Store, quota Quota, logger *zap.Logger) (*ExpiryWindowLimiter, error) {
	if err := quota.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpiryWindowLimiter{
		store:  s,
		quota:  quota,
		logger: logger,
	}, nil
}

// Check implements Limiter.
func (l *ExpiryWindowLimiter) Check(ctx context.Context, origin string) (*Decision, error) {
	if origin == "" {
		return nil, ErrEmptyOrigin
	}

	count, remaining, ttlKnown, err := l.consume(ctx, origin)
	if err != nil {
		return nil, err
	}

	if count <= int64(l.quota.MaxRequests) {
		return allowed(l.quota, count), nil
	}

	// When the TTL is unknown (the key expired and was recreated between
	// steps, or the expiry-set call lost a race) report the full window:
	// a fail-safe upper bound, never an under-reported wait.
	if !ttlKnown {
		remaining = l.quota.Window
	}
	return denied(l.quota, remaining), nil
}

// consume applies one request to the origin's counter and reports the new
// count plus the window's remaining lifetime.
//
// Stores that support a server-side scripted check-and-set take a single
// round trip with no gap between increment and expiry. Other stores fall
// back to the separate primitives: only the call that brings the counter
// 0->1 establishes the expiry, and SetExpiryIfUnset is idempotent, so two
// racing creators are benign.
func (l *ExpiryWindowLimiter) consume(ctx context.Context, key string) (count int64, remaining time.Duration, ttlKnown bool, err error) {
	if atomic, ok := l.store.(store.AtomicStore); ok {
		count, remaining, err = atomic.IncrementWithExpiry(ctx, key, l.quota.Window)
		if err != nil {
			return 0, 0, false, err
		}
		return count, remaining, remaining > 0, nil
	}

	count, err = l.store.IncrementAndGet(ctx, key)
	if err != nil {
		return 0, 0, false, err
	}

	if count == 1 {
		set, expErr := l.store.SetExpiryIfUnset(ctx, key, l.quota.Window)
		if expErr != nil {
			// The increment already consumed a slot; the decision still
			// stands, the window deadline is just best-effort here.
			l.logger.Warn("failed to set window expiry",
				zap.String("key", key),
				zap.Error(expErr),
			)
		} else if !set {
			l.logger.Debug("window expiry already established by a racing request",
				zap.String("key", key),
			)
		}
	}

	if count <= int64(l.quota.MaxRequests) {
		// Allowed path never reports RetryAfter; skip the TTL round trip.
		return count, 0, false, nil
	}

	remaining, ttlKnown, err = l.store.TimeToLive(ctx, key)
	if err != nil {
		return 0, 0, false, err
	}
	return count, remaining, ttlKnown, nil
}
