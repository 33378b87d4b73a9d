package ratelimit

import (
	"context"
	"sync/atomic"
)

// DynamicLimiter is a Limiter whose underlying strategy can be swapped
// atomically, used for configuration hot reload. Checks in flight keep the
// limiter they started with; new checks see the replacement.
type DynamicLimiter struct {
	current atomic.Pointer[Limiter]
}

// NewDynamicLimiter creates a dynamic limiter delegating to initial.
func NewDynamicLimiter(initial Limiter) *DynamicLimiter {
	d := &DynamicLimiter{}
	d.current.Store(&initial)
	return d
}

// Check implements Limiter.
func (d *DynamicLimiter) Check(ctx context.Context, origin string) (*Decision, error) {
	return (*d.current.Load()).Check(ctx, origin)
}

// Swap replaces the underlying limiter and returns the one it replaced so
// the caller can release any resources it owns.
func (d *DynamicLimiter) Swap(next Limiter) Limiter {
	prev := d.current.Swap(&next)
	return *prev
}
