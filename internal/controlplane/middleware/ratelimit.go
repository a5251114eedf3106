package middleware

import (
	"fmt"
	"math"
	"strconv"

	"sandboxd/internal/controlplane/ratelimit"
	pkgerrors "sandboxd/pkg/errors"
	"sandboxd/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// KeyFunc derives the rate-limit identity for a request.
type KeyFunc func(c *gin.Context) string

// KeyByUserOrIP prefers the authenticated user id and falls back to the
// caller's IP for anonymous requests.
func KeyByUserOrIP(c *gin.Context) string {
	if userID, ok := c.Get("user_id"); ok {
		return fmt.Sprintf("user:%v", userID)
	}
	return "ip:" + c.ClientIP()
}

// KeyByIP ignores authentication entirely. Pre-authentication endpoints use
// it so rotating accounts cannot reset an attacker's budget.
func KeyByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimit enforces the given limits per route scope. A single-element
// limits slice is a plain limiter; more elements form a composite limiter
// where every window must admit the request. Successful responses carry
// X-RateLimit-Limit/-Remaining/-Reset; rejections add Retry-After seconds.
func RateLimit(store ratelimit.Store, scope string, limits []ratelimit.Limit, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = KeyByUserOrIP
	}
	return func(c *gin.Context) {
		if store == nil || len(limits) == 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", scope, keyFn(c))
		decision, err := ratelimit.AllowAll(c.Request.Context(), store, key, limits)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.AbortWithErrorCode(c, pkgerrors.TooManyRequests, "")
			return
		}

		c.Next()
	}
}
