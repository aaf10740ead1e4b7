package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts hits per key in fixed windows. It caps bookings per
// actor and lets one worker replica claim each sweep cycle.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow counts one hit for key and reports whether the window still has room.
// The window starts at the first hit; later hits do not extend it.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	k := keyPrefix + key
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrapf(err, "redis ratelimit %s", key)
	}
	n := incr.Val()
	return n <= limit, n, nil
}
