package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Prometheus metrics for Redis store operations
var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratewall_redis_store_operations_total",
			Help: "Total number of Redis counter store operations",
		},
		[]string{"operation", "status"},
	)

	redisStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratewall_redis_store_operation_duration_seconds",
			Help:    "Duration of Redis counter store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	redisStoreConnectionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewall_redis_store_connection_retries_total",
			Help: "Total number of Redis connection retry attempts",
		},
	)
)

// incrementWithExpiryScript atomically increments a counter, establishes the
// window expiry only on the 0->1 transition, and reads the remaining
// lifetime. Running it server-side closes the race where the key could
// expire between a client-side INCR and EXPIRE.
// KEYS[1] = key
// ARGV[1] = ttl in milliseconds
var incrementWithExpiryScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return {count, ttl}
`)

// appendAndCountScript maintains a sorted-set log of request timestamps:
// prune entries that fell out of the window, record this request, count
// what remains, and read the oldest surviving entry, all in one atomic
// step. Scores are milliseconds since epoch; members are unique so two
// requests in the same millisecond both count.
// KEYS[1] = key
// ARGV[1] = window start in epoch milliseconds (exclusive)
// ARGV[2] = now in epoch milliseconds
// ARGV[3] = member
// ARGV[4] = window in milliseconds
var appendAndCountScript = redis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
	local count = redis.call('ZCARD', KEYS[1])
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return {count, oldest[2]}
`)

// RedisStore implements AtomicStore using Redis. All counter keys share a
// configurable namespace prefix so multiple limiter deployments can share
// one Redis instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// Prefix is the key namespace prefix prepended to every counter key.
	Prefix string

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectionRetries is the number of initial connection attempts before
	// giving up. Retries apply only to establishing the connection; counter
	// operations are never retried.
	ConnectionRetries int

	// InitialBackoff is the backoff before the first connection retry.
	InitialBackoff time.Duration

	// Logger for the Redis store.
	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Prefix:            "ratewall:",
		PoolSize:          10,
		MinIdleConns:      2,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      3 * time.Second,
		ConnectionRetries: 5,
		InitialBackoff:    100 * time.Millisecond,
	}
}

// NewRedisStore creates a new Redis store and verifies connectivity with a
// bounded number of ping attempts.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratewall:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := pingWithRetry(client, cfg, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// pingWithRetry verifies connectivity, backing off between attempts.
func pingWithRetry(client *redis.Client, cfg *RedisConfig, logger *zap.Logger) error {
	retries := cfg.ConnectionRetries
	if retries <= 0 {
		retries = 5
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		lastErr = client.Ping(ctx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				logger.Info("redis connection established after retry",
					zap.String("address", cfg.Address),
					zap.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if attempt < retries {
			logger.Debug("redis connection failed, retrying",
				zap.String("address", cfg.Address),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			redisStoreConnectionRetries.Inc()
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w: %w",
		retries+1, ErrStoreUnavailable, lastErr)
}

// prefixKey adds the namespace prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// unavailable wraps a Redis failure so callers can distinguish store outages
// from decisions. Context cancellation and timeouts count as store failures:
// the increment may already have been applied remotely, so the request must
// be treated as counted.
func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, ErrStoreUnavailable, err)
}

// IncrementAndGet implements Store.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	val, err := s.client.Incr(ctx, s.prefixKey(key)).Result()

	redisStoreOperationDuration.WithLabelValues("increment").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("increment", "error").Inc()
		return 0, unavailable("incr", err)
	}

	redisStoreOperationsTotal.WithLabelValues("increment", "success").Inc()
	return val, nil
}

// SetExpiryIfUnset implements Store using EXPIRE NX, which is a no-op when
// the key already carries an expiry.
func (s *RedisStore) SetExpiryIfUnset(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()

	set, err := s.client.ExpireNX(ctx, s.prefixKey(key), ttl).Result()

	redisStoreOperationDuration.WithLabelValues("set_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("set_expiry", "error").Inc()
		return false, unavailable("expire nx", err)
	}

	redisStoreOperationsTotal.WithLabelValues("set_expiry", "success").Inc()
	return set, nil
}

// TimeToLive implements Store. ok is false when the key does not exist or
// has no expiry (PTTL returns a negative value for both).
func (s *RedisStore) TimeToLive(ctx context.Context, key string) (time.Duration, bool, error) {
	start := time.Now()

	ttl, err := s.client.PTTL(ctx, s.prefixKey(key)).Result()

	redisStoreOperationDuration.WithLabelValues("ttl").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("ttl", "error").Inc()
		return 0, false, unavailable("pttl", err)
	}

	redisStoreOperationsTotal.WithLabelValues("ttl", "success").Inc()

	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// IncrementWithExpiry implements AtomicStore using a Lua script so that
// increment, conditional expiry, and TTL read are a single indivisible
// operation from the perspective of concurrent callers.
//
// remaining is negative when the entry carries no expiry, which can only
// happen if the key was written by something other than this store.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	start := time.Now()

	ttlMillis := ttl.Milliseconds()
	if ttlMillis < 1 {
		ttlMillis = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefixKey(key)}, ttlMillis).Result()

	redisStoreOperationDuration.WithLabelValues("increment_with_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, 0, unavailable("increment script", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, 0, unavailable("increment script", fmt.Errorf("unexpected reply type %T", result))
	}

	count, countOK := values[0].(int64)
	ttlReply, ttlOK := values[1].(int64)
	if !countOK || !ttlOK {
		redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, 0, unavailable("increment script", fmt.Errorf("unexpected reply values %v", values))
	}

	redisStoreOperationsTotal.WithLabelValues("increment_with_expiry", "success").Inc()
	return count, time.Duration(ttlReply) * time.Millisecond, nil
}

// AppendAndCount implements LogStore using a sorted-set script so that
// prune, append, count, and expiry refresh are a single indivisible
// operation from the perspective of concurrent callers.
func (s *RedisStore) AppendAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	start := time.Now()

	nowMillis := now.UnixMilli()
	windowMillis := window.Milliseconds()
	if windowMillis < 1 {
		windowMillis = 1
	}
	windowStart := nowMillis - windowMillis

	// Unique member so simultaneous requests never collapse into one
	// log entry.
	member := uuid.NewString()

	result, err := appendAndCountScript.Run(ctx, s.client,
		[]string{s.prefixKey(key)}, windowStart, nowMillis, member, windowMillis).Result()

	redisStoreOperationDuration.WithLabelValues("append_and_count").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("append_and_count", "error").Inc()
		return 0, time.Time{}, unavailable("append script", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		redisStoreOperationsTotal.WithLabelValues("append_and_count", "error").Inc()
		return 0, time.Time{}, unavailable("append script", fmt.Errorf("unexpected reply type %T", result))
	}

	count, countOK := values[0].(int64)
	oldestRaw, oldestOK := values[1].(string)
	if !countOK || !oldestOK {
		redisStoreOperationsTotal.WithLabelValues("append_and_count", "error").Inc()
		return 0, time.Time{}, unavailable("append script", fmt.Errorf("unexpected reply values %v", values))
	}

	oldestMillis, err := strconv.ParseFloat(oldestRaw, 64)
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("append_and_count", "error").Inc()
		return 0, time.Time{}, unavailable("append script", fmt.Errorf("unexpected oldest score %q", oldestRaw))
	}

	redisStoreOperationsTotal.WithLabelValues("append_and_count", "success").Inc()
	return count, time.UnixMilli(int64(oldestMillis)), nil
}

// Ping checks connectivity to Redis. Used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
