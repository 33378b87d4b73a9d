package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxCASRetries is the maximum number of CAS retry attempts to prevent
// infinite spinning under high contention.
const maxCASRetries = 100

// entry represents a stored counter with an optional expiration.
type entry struct {
	value      int64
	expiration time.Time
}

// logEntry represents a per-key log of request timestamps.
type logEntry struct {
	mu        sync.Mutex
	times     []time.Time
	expiresAt time.Time
}

// MemoryStore implements Store using in-process storage. It provides the
// same counter semantics as the Redis store for a single instance, and is
// used by tests and by the local fallback limiter. It does not implement
// AtomicStore, so limiters running against it exercise the three-primitive
// path.
type MemoryStore struct {
	data    sync.Map
	logs    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool

	// now is swapped in tests.
	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with a
// custom interval for reclaiming expired entries.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go s.startCleanup()

	return s
}

// IncrementAndGet implements Store.
func (s *MemoryStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memory incr: %w: %w", ErrStoreUnavailable, err)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			newEntry := &entry{value: 1}
			if actual, loaded := s.data.LoadOrStore(key, newEntry); loaded {
				value = actual
			} else {
				return 1, nil
			}
		}

		e := value.(*entry)

		// An expired entry restarts the counter at 1 with no expiry, the
		// same observable behavior as Redis reclaiming the key first.
		if !e.expiration.IsZero() && s.now().After(e.expiration) {
			if s.data.CompareAndSwap(key, e, &entry{value: 1}) {
				return 1, nil
			}
			continue
		}

		newEntry := &entry{
			value:      e.value + 1,
			expiration: e.expiration,
		}

		if s.data.CompareAndSwap(key, e, newEntry) {
			return newEntry.value, nil
		}
	}

	return 0, fmt.Errorf("memory incr: %w: max retries (%d) exceeded", ErrStoreUnavailable, maxCASRetries)
}

// SetExpiryIfUnset implements Store. The second and subsequent calls on the
// same key never extend the deadline established by the first.
func (s *MemoryStore) SetExpiryIfUnset(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("memory set expiry: %w: %w", ErrStoreUnavailable, err)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			return false, nil
		}

		e := value.(*entry)

		if !e.expiration.IsZero() {
			if s.now().After(e.expiration) {
				s.data.CompareAndDelete(key, e)
				return false, nil
			}
			return false, nil
		}

		newEntry := &entry{
			value:      e.value,
			expiration: s.now().Add(ttl),
		}

		if s.data.CompareAndSwap(key, e, newEntry) {
			return true, nil
		}
	}

	return false, fmt.Errorf("memory set expiry: %w: max retries (%d) exceeded", ErrStoreUnavailable, maxCASRetries)
}

// TimeToLive implements Store.
func (s *MemoryStore) TimeToLive(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, fmt.Errorf("memory ttl: %w: %w", ErrStoreUnavailable, err)
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, false, nil
	}

	e := value.(*entry)
	if e.expiration.IsZero() {
		return 0, false, nil
	}

	remaining := e.expiration.Sub(s.now())
	if remaining <= 0 {
		s.data.Delete(key)
		return 0, false, nil
	}

	return remaining, true, nil
}

// AppendAndCount implements LogStore under the key's own lock: prune
// entries older than now-window, append now, and report the count plus the
// oldest surviving timestamp.
func (s *MemoryStore) AppendAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("memory append: %w: %w", ErrStoreUnavailable, err)
	}

	value, _ := s.logs.LoadOrStore(key, &logEntry{})
	log := value.(*logEntry)

	log.mu.Lock()
	defer log.mu.Unlock()

	windowStart := now.Add(-window)
	kept := log.times[:0]
	for _, t := range log.times {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	log.times = append(kept, now)
	log.expiresAt = now.Add(window)

	return int64(len(log.times)), log.times[0], nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

// cleanupExpired removes all expired entries.
func (s *MemoryStore) cleanupExpired() {
	now := s.now()

	s.data.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if !e.expiration.IsZero() && now.After(e.expiration) {
			s.data.Delete(key)
		}
		return true
	})

	s.logs.Range(func(key, value interface{}) bool {
		log := value.(*logEntry)
		log.mu.Lock()
		expired := !log.expiresAt.IsZero() && now.After(log.expiresAt)
		log.mu.Unlock()
		if expired {
			s.logs.Delete(key)
		}
		return true
	})
}

// Size returns the number of entries in the store.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
