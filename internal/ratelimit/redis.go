package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a Limiter shared by every process using the same Redis.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

// Allow increments the window counter and sets its expiry in one
// MULTI/EXEC transaction.
func (l *Redis) Allow(ctx context.Context, clientID string, max int, window time.Duration) (Result, error) {
	key := Key(clientID, l.now(), window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", clientID, err)
	}
	return result(incr.Val(), max, window), nil
}
