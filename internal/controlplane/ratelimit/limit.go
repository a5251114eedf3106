// Package ratelimit implements fixed-window admission control for the
// control plane's HTTP surface. A composite limit is an ordered list of
// windows that must all admit a request; the strictest window governs.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limit is one counted window.
type Limit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Decision is the outcome of one admission check. Allowed responses carry
// what the caller needs to render standard rate-limit headers; rejections
// carry a positive RetryAfter.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Store checks one key against one window.
type Store interface {
	Allow(ctx context.Context, key string, limit Limit) (Decision, error)
}

// AllowAll evaluates every limit for the key and rejects if any one would
// reject. Each window counts in its own bucket (the window length is folded
// into the key). On success the returned decision is the one with the least
// remaining budget.
func AllowAll(ctx context.Context, store Store, key string, limits []Limit) (Decision, error) {
	if len(limits) == 0 {
		return Decision{Allowed: true}, nil
	}

	var strictest Decision
	for i, limit := range limits {
		decision, err := store.Allow(ctx, bucketKey(key, limit), limit)
		if err != nil {
			return Decision{}, err
		}
		if !decision.Allowed {
			return decision, nil
		}
		if i == 0 || decision.Remaining < strictest.Remaining {
			strictest = decision
		}
	}
	return strictest, nil
}

// bucketKey separates buckets per window so composite limits never share
// counters.
func bucketKey(key string, limit Limit) string {
	return fmt.Sprintf("%s:%d", key, limit.Window/time.Millisecond)
}
