package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/response"
)

// WindowCounter is the Redis subset the limiter needs. *redis.Client satisfies it.
type WindowCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimiter is a fixed-window limiter whose counters live in Redis, so every
// server instance enforces the same budget.
type RateLimiter struct {
	rdb    WindowCounter
	limit  int
	window time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(rdb WindowCounter, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		log:    log.With().Str("component", "rate_limiter").Logger(),
		now:    time.Now,
	}
}

// Middleware returns a Gin middleware that rate-limits by user, or by IP for
// unauthenticated requests. Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		subject := "ip:" + c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			subject = "user:" + strconv.Itoa(claims.UserID)
		}

		now := rl.now()
		key := config.CacheKey.RateLimitKey(subject, rl.window, now)
		ctx := c.Request.Context()

		count, err := rl.rdb.Incr(ctx, key).Result()
		if err != nil {
			rl.log.Warn().Err(err).Str("subject", subject).Msg("Rate limit counter unavailable, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			if err := rl.rdb.Expire(ctx, key, rl.window).Err(); err != nil {
				rl.log.Warn().Err(err).Str("key", key).Msg("Failed to set rate limit window expiry")
			}
		}

		if count > int64(rl.limit) {
			windowStart := now.Truncate(rl.window)
			retry := int(windowStart.Add(rl.window).Sub(now).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retry))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
