package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/ratelimit/store"
)

// FixedWindowLimiter counts requests per origin within time-aligned windows
// of fixed duration. The counter key embeds the current window index, so a
// fresh key (and a fresh count) appears at every window boundary.
//
// Known boundary flaw, inherent to the strategy: a client can issue up to
// MaxRequests at the tail of one window and another MaxRequests at the head
// of the next, admitting up to twice the quota within a short span
// straddling the boundary. ExpiryWindowLimiter corrects this.
//
// The window index is computed from the local clock; instances with skewed
// clocks may disagree on the current boundary. The limiter assumes all
// instances share a reasonably synchronized clock source.
type FixedWindowLimiter struct {
	store  store.Store
	quota  Quota
	logger *zap.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewFixedWindowLimiter creates a fixed window limiter. The quota is
// validated eagerly; an invalid quota never reaches Check.
func NewFixedWindowLimiter(s store.Store, quota Quota, logger *zap.Logger) (*FixedWindowLimiter, error) {
	if err := quota.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FixedWindowLimiter{
		store:  s,
		quota:  quota,
		logger: logger,
		now:    time.Now,
	}, nil
}

// windowKey returns the counter key for origin in the window containing t.
// The index changes every window boundary, so expiry only has to reclaim
// stale keys; correctness does not depend on it.
func (l *FixedWindowLimiter) windowKey(origin string, t time.Time) string {
	index := t.UnixNano() / l.quota.Window.Nanoseconds()
	return fmt.Sprintf("%s:%d", origin, index)
}

// Check implements Limiter.
func (l *FixedWindowLimiter) Check(ctx context.Context, origin string) (*Decision, error) {
	if origin == "" {
		return nil, ErrEmptyOrigin
	}

	now := l.now()
	key := l.windowKey(origin, now)

	count, err := l.store.IncrementAndGet(ctx, key)
	if err != nil {
		return nil, err
	}

	// Only the request that created the window entry establishes the
	// expiry; later increments must not reset the deadline.
	if count == 1 {
		if _, err := l.store.SetExpiryIfUnset(ctx, key, l.quota.Window); err != nil {
			// The request is already counted and the key stops being
			// referenced at the next boundary regardless; log and decide.
			l.logger.Warn("failed to set window expiry",
				zap.String("origin", origin),
				zap.Error(err),
			)
		}
	}

	if count <= int64(l.quota.MaxRequests) {
		return allowed(l.quota, count), nil
	}

	retryAfter := l.quota.Window - time.Duration(now.UnixNano()%l.quota.Window.Nanoseconds())
	return denied(l.quota, retryAfter), nil
}
