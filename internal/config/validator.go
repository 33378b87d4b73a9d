package config

import (
	"errors"
	"fmt"
)

// Validate rejects unusable configuration eagerly, before any component is
// constructed from it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if cfg.Server.Address == "" {
		errs = append(errs, errors.New("server.address must not be empty"))
	}

	if cfg.Redis.Address == "" {
		errs = append(errs, errors.New("redis.address must not be empty"))
	}

	if cfg.Limiter.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("limiter.maxRequests must be positive, got %d",
			cfg.Limiter.MaxRequests))
	}

	if cfg.Limiter.Window <= 0 {
		errs = append(errs, fmt.Errorf("limiter.window must be positive, got %s",
			cfg.Limiter.Window))
	}

	switch cfg.Limiter.Strategy {
	case "fixed_window", "expiry_window", "sliding_log", "":
	default:
		errs = append(errs, fmt.Errorf("limiter.strategy must be fixed_window, expiry_window, or sliding_log, got %q",
			cfg.Limiter.Strategy))
	}

	switch cfg.Limiter.FailurePolicy {
	case FailClosed, FailOpen, "":
	default:
		errs = append(errs, fmt.Errorf("limiter.failurePolicy must be %q or %q, got %q",
			FailClosed, FailOpen, cfg.Limiter.FailurePolicy))
	}

	return errors.Join(errs...)
}
