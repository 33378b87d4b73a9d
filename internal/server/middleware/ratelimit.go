// Package middleware provides gin middleware for the ratewall HTTP server.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/observability"
	"github.com/valexry/ratewall/internal/ratelimit"
	"github.com/valexry/ratewall/internal/ratelimit/store"
)

// Rate limit response headers. X-Remaining-Request duplicates
// X-RateLimit-Remaining for clients written against the older name.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRemainingRequest   = "X-Remaining-Request"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Limiter is the rate limiter to consult.
	Limiter ratelimit.Limiter

	// Origin extracts the rate-limited origin from the request. Defaults to
	// the client IP.
	Origin ratelimit.OriginFunc

	// FailOpen lets requests through uncounted when the counter store is
	// unreachable. When false (the default) such requests are rejected with
	// 503. Ignored when the limiter itself carries a local fallback.
	FailOpen bool

	// SkipPaths is a list of paths exempt from rate limiting.
	SkipPaths []string

	// Logger for rate limit events.
	Logger *zap.Logger
}

// RateLimit returns a middleware that rate limits by client IP, rejecting
// over-quota requests with 429 and failing closed on store errors.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Limiter: limiter,
		Logger:  logger,
	})
}

// RateLimitWithConfig returns a rate limit middleware with custom
// configuration.
func RateLimitWithConfig(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Origin == nil {
		cfg.Origin = ratelimit.IPOrigin
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	skipPaths := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		origin := cfg.Origin(c.Request)

		decision, err := cfg.Limiter.Check(c.Request.Context(), origin)
		if err != nil {
			observability.RecordCheckError()
			handleCheckError(c, cfg, origin, err)
			return
		}

		c.Header(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
		c.Header(HeaderRemainingRequest, strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			observability.RecordDecision(observability.OutcomeDenied)
			cfg.Logger.Debug("request throttled",
				zap.String("origin", origin),
				zap.Duration("retry_after", decision.RetryAfter),
			)

			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(decision)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"retry_after": retryAfterSeconds(decision),
			})
			return
		}

		observability.RecordDecision(observability.OutcomeAllowed)
		c.Next()
	}
}

// handleCheckError applies the configured failure policy to a store outage.
// The request was possibly already counted remotely, so neither policy
// compensates the counter.
func handleCheckError(c *gin.Context, cfg RateLimitConfig, origin string, err error) {
	if !store.IsUnavailable(err) {
		// Validation errors (e.g. empty origin) are the caller's fault.
		cfg.Logger.Warn("rate limit check rejected request",
			zap.String("origin", origin),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "Bad Request",
		})
		return
	}

	cfg.Logger.Error("counter store unavailable",
		zap.String("origin", origin),
		zap.Error(err),
	)

	if cfg.FailOpen {
		c.Next()
		return
	}

	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error": "Service Unavailable",
	})
}

// retryAfterSeconds rounds the wait up to whole seconds, never reporting
// zero for a denied request.
func retryAfterSeconds(d *ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
