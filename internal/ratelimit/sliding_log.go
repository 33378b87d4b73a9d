package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/ratelimit/store"
)

// SlidingLogLimiter keeps a per-origin log of request timestamps and admits
// a request only while fewer than MaxRequests entries fall inside the
// trailing window. The window slides continuously with every request, so an
// origin regains one slot as soon as its oldest logged request ages out,
// rather than waiting for a whole window to lapse as the expiry window
// strategy does.
//
// Throttled requests are logged too: a client hammering past its quota
// keeps its own window busy and does not regain slots faster by retrying.
//
// Cost: one log entry per request in the trailing window, against the two
// counter strategies' single integer per origin.
type SlidingLogLimiter struct {
	store  store.LogStore
	quota  Quota
	logger *zap.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewSlidingLogLimiter creates a sliding log limiter. The store must
// support per-key timestamp logs; the quota is validated eagerly.
func NewSlidingLogLimiter(s store.Store, quota Quota, logger *zap.Logger) (*SlidingLogLimiter, error) {
	if err := quota.Validate(); err != nil {
		return nil, err
	}

	logStore, ok := s.(store.LogStore)
	if !ok {
		return nil, fmt.Errorf("store %T does not support request logs", s)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &SlidingLogLimiter{
		store:  logStore,
		quota:  quota,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Check implements Limiter.
func (l *SlidingLogLimiter) Check(ctx context.Context, origin string) (*Decision, error) {
	if origin == "" {
		return nil, ErrEmptyOrigin
	}

	now := l.now()

	count, oldest, err := l.store.AppendAndCount(ctx, origin, now, l.quota.Window)
	if err != nil {
		return nil, err
	}

	if count <= int64(l.quota.MaxRequests) {
		return allowed(l.quota, count), nil
	}

	// The oldest logged request leaves the window first; its age bounds
	// the wait. denied clamps a negative remainder to zero.
	retryAfter := l.quota.Window - now.Sub(oldest)
	return denied(l.quota, retryAfter), nil
}
