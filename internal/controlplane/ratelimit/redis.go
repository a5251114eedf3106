package ratelimit

import (
	"context"
	"time"

	"sandboxd/internal/common/cache"
	pkgerrors "sandboxd/pkg/errors"
)

// RedisStore enforces fixed windows in Redis so every control-plane replica
// draws from one shared budget. The INCR/TTL pattern means a rejected
// request still bumps the counter past max; the window's TTL is fixed at
// first touch, so over-limit counts never extend the penalty and Remaining
// clamps at zero.
type RedisStore struct {
	cache cache.BasicOps
	now   func() time.Time
}

// NewRedisStore wraps a cache client.
func NewRedisStore(cacheClient cache.BasicOps) *RedisStore {
	return &RedisStore{cache: cacheClient, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if s.cache == nil {
		return Decision{}, pkgerrors.New(pkgerrors.ServiceUnavailable).
			WithMessage("rate limit cache is unavailable")
	}

	acquired, err := s.cache.SetNX(ctx, key, 1, limit.Window)
	if err != nil {
		return Decision{}, pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}

	var count int64
	if acquired {
		count = 1
	} else {
		count, err = s.cache.Incr(ctx, key)
		if err != nil {
			return Decision{}, pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// Heal a key that lost its expiration (e.g. partial failover).
		if ttl, ttlErr := s.cache.TTL(ctx, key); ttlErr == nil && ttl <= 0 {
			_ = s.cache.Expire(ctx, key, limit.Window)
		}
	}

	ttl, err := s.cache.TTL(ctx, key)
	if err != nil || ttl < 0 {
		ttl = limit.Window
	}
	now := s.now()
	reset := now.Add(ttl)

	if int(count) > limit.Max {
		return Decision{
			Allowed:    false,
			Limit:      limit.Max,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: ttl,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     limit.Max,
		Remaining: limit.Max - int(count),
		Reset:     reset,
	}, nil
}
