package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisJoinLimiter throttles join attempts per (user, event) with a
// fixed window counter. It guards the waiting list against repeated
// join-leave cycling; it knows nothing about event state.
type RedisJoinLimiter struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewRedisJoinLimiter(redisClient *redis.Client, maxAttempts int, window time.Duration) *RedisJoinLimiter {
	return &RedisJoinLimiter{
		redis:       redisClient,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow records one join attempt and reports whether it is within the
// window budget. The counter expires with the window, so a throttled
// user gets a fresh budget once it rolls over.
func (l *RedisJoinLimiter) Allow(ctx context.Context, eventID, userID string) (bool, error) {
	key := fmt.Sprintf("admission:joins:%s:%s", eventID, userID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("join limiter: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("join limiter: %w", err)
		}
	}

	return count <= int64(l.maxAttempts), nil
}
