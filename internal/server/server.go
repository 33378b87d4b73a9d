// Package server provides the ratewall HTTP server: the guarded sample
// route, the decision API for sidecar callers, and the operational
// endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/valexry/ratewall/internal/health"
	"github.com/valexry/ratewall/internal/observability"
	"github.com/valexry/ratewall/internal/ratelimit"
	"github.com/valexry/ratewall/internal/server/middleware"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions between servers created in parallel tests.
var ginModeOnce sync.Once

// Config holds configuration for the HTTP server.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// FailOpen is the rate limit middleware policy for store outages.
	FailOpen bool

	// GuardRPS and GuardBurst bound, per client and per instance, how fast
	// the decision API itself may be called. Zero disables the guard.
	GuardRPS   float64
	GuardBurst int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Server is the ratewall HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	limiter    ratelimit.Limiter
	health     *health.Handler
	guard      *middleware.LocalGuard
	logger     *zap.Logger
	config     *Config
}

// New creates the HTTP server and registers all routes.
func New(cfg *Config, limiter ratelimit.Limiter, healthHandler *health.Handler, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()

	s := &Server{
		engine:  engine,
		limiter: limiter,
		health:  healthHandler,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// registerRoutes wires middleware and routes.
func (s *Server) registerRoutes() {
	s.engine.Use(
		middleware.RequestID(),
		middleware.Recovery(s.logger),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    s.logger,
			SkipPaths: []string{"/healthz", "/readyz", "/metrics"},
		}),
	)

	// Operational endpoints are never rate limited.
	s.engine.GET("/healthz", s.health.Liveness)
	s.engine.GET("/readyz", s.health.Readiness)
	s.engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	v1 := s.engine.Group("/v1")

	// Sample guarded route: demonstrates embedding the limiter as
	// middleware, quota keyed by client IP.
	guarded := v1.Group("")
	guarded.Use(middleware.RateLimitWithConfig(middleware.RateLimitConfig{
		Limiter:  s.limiter,
		FailOpen: s.config.FailOpen,
		Logger:   s.logger,
	}))
	guarded.GET("/ping", s.handlePing)

	// Decision API for sidecar callers that enforce the decision
	// themselves. Not wrapped by the distributed limiter: a denied decision
	// is a successful response here. A local per-client guard protects the
	// endpoint without spending store round trips.
	check := v1.Group("")
	if s.config.GuardRPS > 0 {
		s.guard = middleware.NewLocalGuard(s.config.GuardRPS, s.config.GuardBurst, s.logger)
		check.Use(middleware.Guard(s.guard))
	}
	check.POST("/check", s.handleCheck)
}

// handlePing responds to the sample guarded route.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// checkRequest is the decision API request payload.
type checkRequest struct {
	Origin string `json:"origin" binding:"required"`
}

// checkResponse is the decision API response payload.
type checkResponse struct {
	Allowed           bool `json:"allowed"`
	Limit             int  `json:"limit"`
	Remaining         int  `json:"remaining"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
}

// handleCheck consumes one request slot for the given origin and returns
// the decision. A store outage is reported as 503, never as a decision.
func (s *Server) handleCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "origin is required"})
		return
	}

	decision, err := s.limiter.Check(c.Request.Context(), req.Origin)
	if err != nil {
		if errors.Is(err, ratelimit.ErrEmptyOrigin) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "origin is required"})
			return
		}

		observability.RecordCheckError()
		s.logger.Error("decision check failed",
			zap.String("origin", req.Origin),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service Unavailable"})
		return
	}

	outcome := observability.OutcomeAllowed
	resp := checkResponse{
		Allowed:   decision.Allowed,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
	}
	if !decision.Allowed {
		outcome = observability.OutcomeDenied
		secs := int(decision.RetryAfter.Seconds())
		if decision.RetryAfter > time.Duration(secs)*time.Second {
			secs++
		}
		if secs < 1 {
			secs = 1
		}
		resp.RetryAfterSeconds = secs
	}
	observability.RecordDecision(outcome)

	c.JSON(http.StatusOK, resp)
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		zap.String("address", s.config.Address),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.guard != nil {
		s.guard.Stop()
	}

	return s.httpServer.Shutdown(shutdownCtx)
}
