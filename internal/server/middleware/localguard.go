package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Local guard default configuration constants.
const (
	// DefaultGuardTTL is the default TTL for per-client guard entries.
	DefaultGuardTTL = 10 * time.Minute

	// MinGuardCleanupInterval is the minimum interval between cleanup runs.
	MinGuardCleanupInterval = 10 * time.Second

	// MaxGuardCleanupInterval is the maximum interval between cleanup runs.
	MaxGuardCleanupInterval = time.Minute
)

// guardEntry holds a per-client limiter and its last access time for
// TTL-based cleanup.
type guardEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalGuard is a purely in-process, per-client request guard protecting
// the decision API itself. Unlike the distributed limiters it never touches
// the shared counter store, so it keeps working while the store is down and
// costs no round trip; its budget is per instance, not global.
type LocalGuard struct {
	clients   map[string]*guardEntry
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	logger    *zap.Logger
	clientTTL time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewLocalGuard creates a local guard allowing rps requests per second with
// the given burst per client, and starts its background cleanup.
func NewLocalGuard(rps float64, burst int, logger *zap.Logger) *LocalGuard {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &LocalGuard{
		clients:   make(map[string]*guardEntry),
		rps:       rate.Limit(rps),
		burst:     burst,
		logger:    logger,
		clientTTL: DefaultGuardTTL,
		stopCh:    make(chan struct{}),
	}

	go g.cleanupLoop()

	return g
}

// Allow reports whether a request from clientIP is within the local budget.
func (g *LocalGuard) Allow(clientIP string) bool {
	now := time.Now()

	g.mu.Lock()
	entry, ok := g.clients[clientIP]
	if !ok {
		entry = &guardEntry{
			limiter:    rate.NewLimiter(g.rps, g.burst),
			lastAccess: now,
		}
		g.clients[clientIP] = entry
	} else {
		entry.lastAccess = now
	}
	limiter := entry.limiter
	g.mu.Unlock()

	return limiter.Allow()
}

// Stop stops the cleanup goroutine.
func (g *LocalGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
}

// cleanupLoop periodically drops idle client entries to bound memory.
func (g *LocalGuard) cleanupLoop() {
	interval := g.clientTTL / 2
	if interval > MaxGuardCleanupInterval {
		interval = MaxGuardCleanupInterval
	}
	if interval < MinGuardCleanupInterval {
		interval = MinGuardCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.removeIdle(g.clientTTL)
		case <-g.stopCh:
			return
		}
	}
}

// removeIdle drops entries not accessed within maxAge.
func (g *LocalGuard) removeIdle(maxAge time.Duration) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for ip, entry := range g.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(g.clients, ip)
			removed++
		}
	}

	if removed > 0 {
		g.logger.Debug("cleaned up idle guard entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(g.clients)),
		)
	}
}

// Guard returns a middleware enforcing the local guard.
func Guard(g *LocalGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Allow(c.ClientIP()) {
			g.logger.Warn("local guard rejected request",
				zap.String("clientIP", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header(HeaderRetryAfter, "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too Many Requests",
			})
			return
		}

		c.Next()
	}
}
