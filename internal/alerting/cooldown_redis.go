package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// acquireScript compares the stored expiry with the event time and, when
// the entry is absent or expired, stores the new expiry. KEYS[1] is the
// cooldown key; ARGV holds the event time and new expiry in unix millis and
// the key TTL in millis.
var acquireScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCooldownStore shares cooldown state between processes through Redis.
type RedisCooldownStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldownStore creates a store that namespaces keys with prefix.
func NewRedisCooldownStore(client *redis.Client, prefix string) *RedisCooldownStore {
	return &RedisCooldownStore{client: client, prefix: prefix}
}

// Acquire implements CooldownStore. The check and the write run as one
// script, so concurrent evaluators on different processes cannot both
// acquire the same key.
func (s *RedisCooldownStore) Acquire(ctx context.Context, key string, ttl time.Duration, at time.Time) (bool, error) {
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		return true, nil
	}
	nowMs := at.UnixMilli()

	res, err := acquireScript.Run(ctx, s.client, []string{s.prefix + key}, nowMs, nowMs+ttlMs, ttlMs).Int()
	if err != nil {
		return false, fmt.Errorf("acquire cooldown %s: %w", key, err)
	}
	return res == 1, nil
}
