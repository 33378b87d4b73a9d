// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultProbeTimeout is the default timeout for readiness probe checks.
const DefaultProbeTimeout = 5 * time.Second

// Check defines the interface for readiness checks.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// NewCheckFunc creates a named readiness check from a function.
func NewCheckFunc(name string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, checkFunc: check}
}

// Name returns the name of the check.
func (f *CheckFunc) Name() string { return f.name }

// Check runs the check.
func (f *CheckFunc) Check(ctx context.Context) error { return f.checkFunc(ctx) }

// Status represents the overall health status payload.
type Status struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single readiness check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Handler serves liveness and readiness probes.
type Handler struct {
	checks       []Check
	logger       *zap.Logger
	mu           sync.RWMutex
	startTime    time.Time
	probeTimeout time.Duration
}

// NewHandler creates a new health handler.
func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:       logger,
		startTime:    time.Now(),
		probeTimeout: DefaultProbeTimeout,
	}
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Liveness handles GET /healthz. The process is alive; always 200.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, Status{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Readiness handles GET /readyz. Returns 503 while any registered check
// fails, e.g. while the shared counter store is unreachable.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.probeTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make(map[string]*CheckResult, len(checks))
	healthy := true

	for _, check := range checks {
		if err := check.Check(ctx); err != nil {
			healthy = false
			results[check.Name()] = &CheckResult{Status: "failed", Error: err.Error()}
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
			)
		} else {
			results[check.Name()] = &CheckResult{Status: "ok"}
		}
	}

	status := Status{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    results,
	}

	if !healthy {
		status.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}

	c.JSON(http.StatusOK, status)
}
