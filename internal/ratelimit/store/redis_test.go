package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore starts a miniredis server and returns a store backed by it.
func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := NewRedisStore(&RedisConfig{
		Address:           mr.Addr(),
		Prefix:            "test:",
		DialTimeout:       time.Second,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
		ConnectionRetries: 1,
		InitialBackoff:    10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	_, err := NewRedisStore(&RedisConfig{
		Address:           "localhost:1", // nothing listens here
		DialTimeout:       100 * time.Millisecond,
		ConnectionRetries: 1,
		InitialBackoff:    time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestRedisStore_IncrementAndGet(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	count, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRedisStore_IncrementAndGet_KeyPrefix(t *testing.T) {
	s, mr := newTestRedisStore(t)

	_, err := s.IncrementAndGet(context.Background(), "origin")
	require.NoError(t, err)

	got, err := mr.Get("test:origin")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestRedisStore_SetExpiryIfUnset(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	// Missing key: EXPIRE NX reports no expiry was set.
	set, err := s.SetExpiryIfUnset(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	_, err = s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)

	set, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	// A second call must not extend the established deadline.
	mr.FastForward(30 * time.Second)
	set, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	ttl, ok, err := s.TimeToLive(ctx, "origin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl)
}

func TestRedisStore_TimeToLive(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	// Missing key.
	_, ok, err := s.TimeToLive(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	// Key without expiry.
	_, err = s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)

	_, ok, err = s.TimeToLive(ctx, "origin")
	require.NoError(t, err)
	assert.False(t, ok)

	// Key with expiry.
	set, err := s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	ttl, ok, err := s.TimeToLive(ctx, "origin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)
}

func TestRedisStore_IncrementWithExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	count, remaining, err := s.IncrementWithExpiry(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, remaining)

	// Subsequent increments must not extend the window.
	mr.FastForward(20 * time.Second)
	count, remaining, err = s.IncrementWithExpiry(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Second, remaining)
}

func TestRedisStore_IncrementWithExpiry_RestartsAfterExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.IncrementWithExpiry(ctx, "origin", time.Minute)
		require.NoError(t, err)
	}

	mr.FastForward(61 * time.Second)

	count, remaining, err := s.IncrementWithExpiry(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired counter must restart at 1")
	assert.Equal(t, time.Minute, remaining)
}

func TestRedisStore_AppendAndCount(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)

	for i := 1; i <= 3; i++ {
		count, oldest, err := s.AppendAndCount(ctx, "origin", base, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
		assert.Equal(t, base, oldest)
	}

	// Entries older than now-window are pruned before counting.
	later := base.Add(61 * time.Second)
	count, oldest, err := s.AppendAndCount(ctx, "origin", later, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, later, oldest)
}

func TestRedisStore_AppendAndCount_OldestSurvivesPartialPrune(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)

	_, _, err := s.AppendAndCount(ctx, "origin", base, time.Minute)
	require.NoError(t, err)

	mid := base.Add(30 * time.Second)
	count, oldest, err := s.AppendAndCount(ctx, "origin", mid, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, base, oldest, "the first entry is still inside the window")
}

func TestRedisStore_AppendAndCount_SameMillisecondBothCount(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)

	_, _, err := s.AppendAndCount(ctx, "origin", now, time.Minute)
	require.NoError(t, err)

	count, _, err := s.AppendAndCount(ctx, "origin", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "simultaneous requests must not collapse into one entry")
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	mr.Close()

	_, err := s.IncrementAndGet(ctx, "origin")
	assert.True(t, IsUnavailable(err), "expected store unavailable, got %v", err)

	_, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	assert.True(t, IsUnavailable(err))

	_, _, err = s.TimeToLive(ctx, "origin")
	assert.True(t, IsUnavailable(err))

	_, _, err = s.IncrementWithExpiry(ctx, "origin", time.Minute)
	assert.True(t, IsUnavailable(err))

	_, _, err = s.AppendAndCount(ctx, "origin", time.Now(), time.Minute)
	assert.True(t, IsUnavailable(err))

	assert.Error(t, s.Ping(ctx))
}

func TestRedisStore_Ping(t *testing.T) {
	s, _ := newTestRedisStore(t)

	assert.NoError(t, s.Ping(context.Background()))
}

func TestRedisStore_ImplementsAtomicStore(t *testing.T) {
	s, _ := newTestRedisStore(t)

	var iface Store = s
	_, ok := iface.(AtomicStore)
	assert.True(t, ok)
}
