package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key the booking service writes, so the cache,
// limiter and sequence counters can share a database with other tenants.
const keyPrefix = "weighbox:"

// NewClient opens the connection pool shared by the cache, the rate limiter
// and the sequence reserver. The caller owns it and closes it once.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// RedisCache holds serialized completed appointments keyed by number.
type RedisCache struct {
	c *redis.Client
}

func New(c *redis.Client) *RedisCache {
	return &RedisCache{c: c}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

// Set ignores a non-positive ttl; nothing is ever cached without expiry.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.c.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (r *RedisCache) Del(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", key)
	}
	return nil
}
