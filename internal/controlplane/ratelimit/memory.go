package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is the counted-request state for one key over one window.
type bucket struct {
	windowStart time.Time
	count       int
}

// MemoryStore keeps fixed-window buckets in process memory. It is the
// default store for single-replica deployments; multi-replica deployments
// use RedisStore so all replicas share one budget.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreAt(time.Now)
}

// NewMemoryStoreAt builds a store with an injected clock for tests.
func NewMemoryStoreAt(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

// Allow admits or rejects one request for the key. A rejected request does
// not consume budget beyond the request that tripped the limit, so a burst
// of rejections never extends the penalty.
func (s *MemoryStore) Allow(_ context.Context, key string, limit Limit) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) >= limit.Window {
		b = &bucket{windowStart: now}
		s.buckets[key] = b
	}

	reset := b.windowStart.Add(limit.Window)
	if b.count+1 > limit.Max {
		return Decision{
			Allowed:    false,
			Limit:      limit.Max,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}, nil
	}

	b.count++
	return Decision{
		Allowed:   true,
		Limit:     limit.Max,
		Remaining: limit.Max - b.count,
		Reset:     reset,
	}, nil
}

// Reset clears every bucket. Used by tests and on shutdown.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	s.buckets = make(map[string]*bucket)
	s.mu.Unlock()
}

// Sweep drops buckets whose window elapsed before now, bounding memory on
// long-running processes with high key cardinality.
func (s *MemoryStore) Sweep(now time.Time, maxWindow time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.windowStart) >= maxWindow {
			delete(s.buckets, key)
		}
	}
}
