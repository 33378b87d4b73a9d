package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMemoryStore returns a memory store with a controllable clock.
func newTestMemoryStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()

	now := time.Now()
	s := NewMemoryStoreWithCleanupInterval(time.Hour)
	s.now = func() time.Time { return now }
	t.Cleanup(func() { _ = s.Close() })

	return s, &now
}

func TestMemoryStore_IncrementAndGet_CreatesAtZero(t *testing.T) {
	s, _ := newTestMemoryStore(t)
	ctx := context.Background()

	count, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStore_IncrementAndGet_DistinctKeys(t *testing.T) {
	s, _ := newTestMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.IncrementAndGet(ctx, "a")
		require.NoError(t, err)
	}

	count, err := s.IncrementAndGet(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "counter for b must be independent of a")
}

func TestMemoryStore_IncrementAndGet_RestartsAfterExpiry(t *testing.T) {
	s, now := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)

	set, err := s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	*now = now.Add(61 * time.Second)

	count, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired counter must restart at 1")
}

func TestMemoryStore_SetExpiryIfUnset_MissingKey(t *testing.T) {
	s, _ := newTestMemoryStore(t)

	set, err := s.SetExpiryIfUnset(context.Background(), "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestMemoryStore_SetExpiryIfUnset_Idempotent(t *testing.T) {
	s, now := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)

	set, err := s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	// A second call must not extend the deadline established by the first.
	*now = now.Add(30 * time.Second)
	set, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	ttl, ok, err := s.TimeToLive(ctx, "origin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl)
}

func TestMemoryStore_TimeToLive(t *testing.T) {
	s, now := newTestMemoryStore(t)
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
	_, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)

	ttl, ok, err := s.TimeToLive(ctx, "origin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	// Lapsed expiry behaves like a missing key.
	*now = now.Add(2 * time.Minute)
	_, ok, err = s.TimeToLive(ctx, "origin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	s, _ := newTestMemoryStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.IncrementAndGet(ctx, "origin")
	assert.True(t, IsUnavailable(err), "expected store unavailable, got %v", err)

	_, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	assert.True(t, IsUnavailable(err))

	_, _, err = s.TimeToLive(ctx, "origin")
	assert.True(t, IsUnavailable(err))
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s, _ := newTestMemoryStore(t)
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.IncrementAndGet(ctx, "origin")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine+1), count)
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	s, now := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := s.IncrementAndGet(ctx, "origin")
	require.NoError(t, err)
	_, err = s.SetExpiryIfUnset(ctx, "origin", time.Minute)
	require.NoError(t, err)

	require.Equal(t, 1, s.Size())

	*now = now.Add(2 * time.Minute)
	s.cleanupExpired()

	assert.Equal(t, 0, s.Size())
}

func TestMemoryStore_AppendAndCount(t *testing.T) {
	s, _ := newTestMemoryStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)

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

func TestMemoryStore_AppendAndCount_DistinctKeys(t *testing.T) {
	s, _ := newTestMemoryStore(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)

	_, _, err := s.AppendAndCount(ctx, "a", now, time.Minute)
	require.NoError(t, err)

	count, _, err := s.AppendAndCount(ctx, "b", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "log for b must be independent of a")
}

func TestMemoryStore_AppendAndCount_ContextCancelled(t *testing.T) {
	s, _ := newTestMemoryStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.AppendAndCount(ctx, "origin", time.Now(), time.Minute)
	assert.True(t, IsUnavailable(err))
}

func TestMemoryStore_CleanupExpiredLogs(t *testing.T) {
	s, now := newTestMemoryStore(t)
	ctx := context.Background()

	_, _, err := s.AppendAndCount(ctx, "origin", *now, time.Minute)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	s.cleanupExpired()

	_, ok := s.logs.Load("origin")
	assert.False(t, ok, "an idle log must be reclaimed after its window")
}

func TestMemoryStore_Close_Idempotent(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
