package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"sandboxd/internal/common/cache"
	"sandboxd/internal/controlplane/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := ratelimit.NewMemoryStoreAt(func() time.Time { return now })
	limit := ratelimit.Limit{Max: 2, Window: time.Minute}

	first, err := store.Allow(context.Background(), "user:7", limit)
	if err != nil || !first.Allowed {
		t.Fatalf("first request must be admitted: %+v %v", first, err)
	}
	if first.Remaining != 1 {
		t.Fatalf("expected remaining 1, got %d", first.Remaining)
	}

	second, _ := store.Allow(context.Background(), "user:7", limit)
	if !second.Allowed || second.Remaining != 0 {
		t.Fatalf("expected admitted with remaining 0, got %+v", second)
	}

	third, _ := store.Allow(context.Background(), "user:7", limit)
	if third.Allowed {
		t.Fatal("third request must be rejected")
	}
	if third.RetryAfter <= 0 {
		t.Fatalf("expected positive Retry-After, got %v", third.RetryAfter)
	}

	// Rejections never consume budget past the limit: once the window
	// elapses a fresh request is admitted immediately.
	now = now.Add(time.Minute)
	fourth, _ := store.Allow(context.Background(), "user:7", limit)
	if !fourth.Allowed || fourth.Remaining != limit.Max-1 {
		t.Fatalf("expected fresh window with remaining %d, got %+v", limit.Max-1, fourth)
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	limit := ratelimit.Limit{Max: 1, Window: time.Minute}

	if d, _ := store.Allow(context.Background(), "ip:192.0.2.1", limit); !d.Allowed {
		t.Fatal("first key must be admitted")
	}
	if d, _ := store.Allow(context.Background(), "ip:192.0.2.2", limit); !d.Allowed {
		t.Fatal("second key must have its own bucket")
	}
	if d, _ := store.Allow(context.Background(), "ip:192.0.2.1", limit); d.Allowed {
		t.Fatal("first key must now be exhausted")
	}
}

func TestCompositeStrictestWindowGoverns(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	limits := []ratelimit.Limit{
		{Max: 2, Window: time.Minute},
		{Max: 10, Window: time.Hour},
	}

	for i := 0; i < 2; i++ {
		d, err := ratelimit.AllowAll(context.Background(), store, "user:7", limits)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d must be admitted: %+v %v", i+1, d, err)
		}
	}

	d, err := ratelimit.AllowAll(context.Background(), store, "user:7", limits)
	if err != nil {
		t.Fatalf("composite check failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("minute window must reject the 3rd request despite hourly headroom")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("Retry-After must come from the tripped window, got %v", d.RetryAfter)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Now()
	store := ratelimit.NewMemoryStoreAt(func() time.Time { return now })
	limit := ratelimit.Limit{Max: 5, Window: time.Second}

	if _, err := store.Allow(context.Background(), "k", limit); err != nil {
		t.Fatal(err)
	}
	store.Sweep(now.Add(time.Minute), time.Second)

	// After the sweep the key starts a fresh window.
	d, _ := store.Allow(context.Background(), "k", limit)
	if d.Remaining != limit.Max-1 {
		t.Fatalf("expected fresh bucket after sweep, got %+v", d)
	}
}

func TestRedisStoreWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache init failed: %v", err)
	}

	store := ratelimit.NewRedisStore(redisCache)
	limit := ratelimit.Limit{Max: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		d, err := store.Allow(context.Background(), "user:7", limit)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d must be admitted: %+v %v", i+1, d, err)
		}
	}

	d, err := store.Allow(context.Background(), "user:7", limit)
	if err != nil {
		t.Fatalf("redis check failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("third request must be rejected")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive Retry-After, got %v", d.RetryAfter)
	}

	mr.FastForward(time.Minute)
	d, err = store.Allow(context.Background(), "user:7", limit)
	if err != nil || !d.Allowed {
		t.Fatalf("expected admission after window elapsed: %+v %v", d, err)
	}
	if d.Remaining != limit.Max-1 {
		t.Fatalf("expected remaining %d, got %d", limit.Max-1, d.Remaining)
	}
}
