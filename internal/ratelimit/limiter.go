// Package ratelimit implements distributed request-rate-limiting decisions.
// Three interchangeable strategies, fixed window, sliding/expiry window and
// sliding log, share one Check contract and coordinate across stateless
// service instances through a shared store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Configuration errors, rejected eagerly at construction and never reaching
// Check.
var (
	// ErrInvalidMaxRequests indicates a non-positive request quota.
	ErrInvalidMaxRequests = errors.New("max requests must be positive")

	// ErrInvalidWindow indicates a non-positive window duration.
	ErrInvalidWindow = errors.New("window duration must be positive")

	// ErrEmptyOrigin indicates a Check call with an empty origin identifier.
	ErrEmptyOrigin = errors.New("origin identifier must not be empty")
)

// Limiter is the decision contract shared by all strategies. A caller
// constructs one with a Quota and a store client and treats the strategies
// polymorphically; each Check is independent and stateless beyond the store.
type Limiter interface {
	// Check decides whether a new request from origin may proceed. It blocks
	// on at least one round trip to the shared counter store; callers apply
	// their own timeout through ctx. A store failure is returned as an error
	// wrapping store.ErrStoreUnavailable, never as a decision.
	Check(ctx context.Context, origin string) (*Decision, error)
}

// Quota is the request budget shared by all origins handled by a limiter
// instance. Immutable for the lifetime of the limiter.
type Quota struct {
	// MaxRequests is the maximum number of requests allowed per window.
	MaxRequests int

	// Window is the time span over which MaxRequests applies.
	Window time.Duration
}

// Validate reports whether the quota is usable.
func (q Quota) Validate() error {
	if q.MaxRequests <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRequests, q.MaxRequests)
	}
	if q.Window <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidWindow, q.Window)
	}
	return nil
}

// Decision is the outcome of one rate-limit check. Produced fresh per call,
// never persisted.
type Decision struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the configured maximum number of requests per window.
	Limit int

	// Remaining is the request budget left in the current window. Clamped to
	// zero when concurrent increments race past the limit.
	Remaining int

	// RetryAfter is how long the origin must wait before a request can be
	// admitted again. Zero when Allowed.
	RetryAfter time.Duration
}

// Strategy identifies a rate limiting strategy.
type Strategy string

const (
	// StrategyFixedWindow counts requests in windows aligned to global clock
	// boundaries.
	StrategyFixedWindow Strategy = "fixed_window"

	// StrategyExpiryWindow counts requests in a window anchored to each
	// origin's own first request.
	StrategyExpiryWindow Strategy = "expiry_window"

	// StrategySlidingLog counts requests against a per-origin timestamp log
	// pruned to the trailing window on every check.
	StrategySlidingLog Strategy = "sliding_log"
)

// allowed builds the decision for a request within budget.
func allowed(quota Quota, count int64) *Decision {
	remaining := quota.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Allowed:   true,
		Limit:     quota.MaxRequests,
		Remaining: remaining,
	}
}

// denied builds the decision for a request over budget.
func denied(quota Quota, retryAfter time.Duration) *Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Decision{
		Allowed:    false,
		Limit:      quota.MaxRequests,
		Remaining:  0,
		RetryAfter: retryAfter,
	}
}
