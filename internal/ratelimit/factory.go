package ratelimit

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/ratelimit/store"
)

// FactoryConfig holds configuration for building a limiter.
type FactoryConfig struct {
	// Strategy selects the rate limiting strategy.
	Strategy Strategy

	// MaxRequests is the maximum number of requests allowed per window.
	MaxRequests int

	// Window is the time span over which MaxRequests applies.
	Window time.Duration

	// FallbackEnabled wraps the limiter so that store outages are served by
	// a local in-process limiter of the same strategy instead of surfacing
	// the error to callers.
	FallbackEnabled bool

	// Fallback tunes the circuit breaker guarding the store. Only consulted
	// when FallbackEnabled is true.
	Fallback *FallbackConfig

	// Logger for the limiter.
	Logger *zap.Logger
}

// DefaultFactoryConfig returns a FactoryConfig with default values.
func DefaultFactoryConfig() *FactoryConfig {
	return &FactoryConfig{
		Strategy:    StrategyExpiryWindow,
		MaxRequests: 100,
		Window:      time.Minute,
	}
}

// New builds the configured limiter strategy over the given store.
func New(cfg *FactoryConfig, s store.Store) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultFactoryConfig()
	}

	quota := Quota{MaxRequests: cfg.MaxRequests, Window: cfg.Window}

	limiter, err := newStrategy(cfg.Strategy, s, quota, cfg.Logger)
	if err != nil {
		return nil, err
	}

	if !cfg.FallbackEnabled {
		return limiter, nil
	}

	localStore := store.NewMemoryStore()
	local, err := newStrategy(cfg.Strategy, localStore, quota, cfg.Logger)
	if err != nil {
		_ = localStore.Close()
		return nil, err
	}

	fallbackCfg := cfg.Fallback
	if fallbackCfg == nil {
		fallbackCfg = DefaultFallbackConfig()
	}
	if fallbackCfg.Logger == nil {
		fallbackCfg.Logger = cfg.Logger
	}

	fallback := NewFallbackLimiter(limiter, local, fallbackCfg)
	fallback.localStore = localStore
	return fallback, nil
}

// newStrategy builds a single strategy instance.
func newStrategy(strategy Strategy, s store.Store, quota Quota, logger *zap.Logger) (Limiter, error) {
	switch strategy {
	case StrategyFixedWindow:
		return NewFixedWindowLimiter(s, quota, logger)
	case StrategyExpiryWindow, "":
		return NewExpiryWindowLimiter(s, quota, logger)
	case StrategySlidingLog:
		return NewSlidingLogLimiter(s, quota, logger)
	default:
		return nil, fmt.Errorf("unknown rate limit strategy: %s", strategy)
	}
}
