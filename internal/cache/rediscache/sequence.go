package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const sequenceKeyTTL = 72 * time.Hour

// SequenceReserver hands out per-day booking sequence numbers with an atomic
// INCR. The counter is seeded once from the number of appointments already
// stored for that day, so a cold cache never restarts from 1.
type SequenceReserver struct {
	c *redis.Client
}

func NewSequenceReserver(c *redis.Client) *SequenceReserver {
	return &SequenceReserver{c: c}
}

// Next returns the next sequence for day. seed is called only when the
// counter for that day does not exist yet.
func (s *SequenceReserver) Next(ctx context.Context, day time.Time, seed func(ctx context.Context) (int, error)) (int, error) {
	key := sequenceKey(day)

	exists, err := s.c.Exists(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis sequence exists")
	}
	if exists == 0 {
		base, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		// a concurrent seeder may win; its value is as good as ours
		if err := s.c.SetNX(ctx, key, base, sequenceKeyTTL).Err(); err != nil {
			return 0, errors.Wrap(err, "redis sequence seed")
		}
	}

	pipe := s.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sequenceKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "redis sequence incr")
	}
	return int(incr.Val()), nil
}

func sequenceKey(day time.Time) string {
	return fmt.Sprintf(keyPrefix+"appointment:seq:%s", day.UTC().Format("20060102"))
}
