package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/ratelimit/store"
)

// Prometheus metrics for fallback decisions
var (
	fallbackDecisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewall_fallback_decisions_total",
			Help: "Total number of decisions served by the local fallback limiter",
		},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratewall_store_breaker_open",
			Help: "Whether the counter store circuit breaker is open (1) or not (0)",
		},
	)
)

// FallbackLimiter wraps a store-backed limiter with a circuit breaker and a
// local, in-process limiter of the same strategy. While the shared store is
// unreachable, or the breaker is open, decisions come from the local
// limiter instead of surfacing the error.
//
// This is an explicit caller-side policy: the wrapped limiters themselves
// always propagate store failures. Local decisions are per-instance, so the
// effective quota during an outage is per instance rather than global.
type FallbackLimiter struct {
	primary Limiter
	local   Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	// localStore is the in-process store backing local, owned by this
	// limiter and released by Close. Nil when the caller owns the store.
	localStore store.Store
}

// FallbackConfig holds configuration for the fallback limiter.
type FallbackConfig struct {
	// OpenAfter is the number of consecutive store failures that open the
	// circuit.
	OpenAfter int

	// CoolDown is how long the circuit stays open before probing the store
	// again.
	CoolDown time.Duration

	// Logger for fallback events.
	Logger *zap.Logger
}

// DefaultFallbackConfig returns a FallbackConfig with default values.
func DefaultFallbackConfig() *FallbackConfig {
	return &FallbackConfig{
		OpenAfter: 5,
		CoolDown:  10 * time.Second,
	}
}

// NewFallbackLimiter wraps primary with a circuit breaker that diverts
// checks to local while the store is failing.
func NewFallbackLimiter(primary, local Limiter, cfg *FallbackConfig) *FallbackLimiter {
	if cfg == nil {
		cfg = DefaultFallbackConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	openAfter := cfg.OpenAfter
	if openAfter <= 0 {
		openAfter = 5
	}

	settings := gobreaker.Settings{
		Name:    "counter-store",
		Timeout: cfg.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(openAfter)
		},
		// Only store outages count against the circuit; validation errors
		// from bad client input must not open it.
		IsSuccessful: func(err error) bool {
			return err == nil || !store.IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				breakerState.Set(1)
			} else {
				breakerState.Set(0)
			}
			logger.Warn("counter store circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &FallbackLimiter{
		primary: primary,
		local:   local,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Check implements Limiter.
func (f *FallbackLimiter) Check(ctx context.Context, origin string) (*Decision, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.primary.Check(ctx, origin)
	})
	if err == nil {
		return result.(*Decision), nil
	}

	// Only store outages and an open circuit divert to the local limiter.
	// Validation errors (e.g. empty origin) must not be masked by a local
	// decision.
	if !store.IsUnavailable(err) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, err
	}

	f.logger.Debug("using local fallback limiter",
		zap.String("origin", origin),
		zap.Error(err),
	)
	fallbackDecisionsTotal.Inc()

	return f.local.Check(ctx, origin)
}

// Close releases the in-process store backing the local limiter, if this
// limiter owns one.
func (f *FallbackLimiter) Close() error {
	if f.localStore != nil {
		return f.localStore.Close()
	}
	return nil
}
