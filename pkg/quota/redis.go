package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisDailyQuotaScript performs the check-and-increment atomically so
// concurrent requests for the same key never lose updates.
// KEYS[1] = day bucket key
// ARGV[1] = daily limit
// ARGV[2] = unix expiry for lazy purge of stale buckets
var redisDailyQuotaScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if count >= limit then
    return {0, count}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIREAT", KEYS[1], tonumber(ARGV[2]))
end
return {1, count}
`)

// RedisStore implements Store on Redis for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

// Allow executes the Lua script against today's bucket. The bucket key
// embeds the UTC date, so the count resets at midnight without any
// coordinated reset; the key itself expires after the retention window.
func (s *RedisStore) Allow(ctx context.Context, keyID string, limit int64) (Decision, error) {
	now := s.clock().UTC()
	key := bucketKey(keyID, now)
	expireAt := now.AddDate(0, 0, retentionDays).Unix()

	res, err := redisDailyQuotaScript.Run(ctx, s.client, []string{key}, limit, expireAt).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("quota: redis script: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Decision{}, fmt.Errorf("quota: unexpected script result %v", res)
	}
	allowed, _ := results[0].(int64)
	count, _ := results[1].(int64)

	d := Decision{Allowed: allowed == 1, Count: count, Limit: limit}
	if !d.Allowed {
		d.RetryAfter = untilNextMidnight(now)
	}
	return d, nil
}
