// Package redisrate provides a Redis-backed RateStore for quotacore.
//
// Window state is stored in Redis hashes with one atomic Lua script per hit,
// so several instances of the request layer can share limits. Keys carry a
// TTL and expire on their own; no sweep is needed.
package redisrate

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/briefcast/quotacore"
)

// Store is a Redis-backed quotacore.RateStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ quotacore.RateStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "quotacore:rate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed RateStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "quotacore:rate:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// hitScript applies one request against a window hash.
// KEYS[1] = window hash key
// ARGV[1] = now (unix millis)
// ARGV[2] = window_limit
// ARGV[3] = window_period (millis)
// ARGV[4] = burst_limit
// ARGV[5] = burst_period (millis)
// ARGV[6] = short_cooldown (millis)
// ARGV[7] = long_cooldown (millis)
// ARGV[8] = key ttl (millis)
//
// Returns {allowed, remaining, retry_after_millis}.
var hitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_limit = tonumber(ARGV[2])
local window_period = tonumber(ARGV[3])
local burst_limit = tonumber(ARGV[4])
local burst_period = tonumber(ARGV[5])
local short_cd = tonumber(ARGV[6])
local long_cd = tonumber(ARGV[7])
local ttl = tonumber(ARGV[8])

local blocked_until = tonumber(redis.call("HGET", key, "blocked_until") or "0")
if now < blocked_until then
    return {0, 0, blocked_until - now}
end

local window_start = tonumber(redis.call("HGET", key, "window_start") or "0")
local window_count = tonumber(redis.call("HGET", key, "window_count") or "0")
local burst_start = tonumber(redis.call("HGET", key, "burst_start") or "0")
local burst_count = tonumber(redis.call("HGET", key, "burst_count") or "0")

-- Each window resets independently once its own period has elapsed.
if now - window_start >= window_period then
    window_count = 0
    window_start = now
end
if now - burst_start >= burst_period then
    burst_count = 0
    burst_start = now
end

if window_count >= window_limit then
    redis.call("HSET", key, "blocked_until", tostring(now + long_cd),
        "window_start", tostring(window_start), "window_count", tostring(window_count),
        "burst_start", tostring(burst_start), "burst_count", tostring(burst_count))
    redis.call("PEXPIRE", key, ttl)
    return {0, 0, long_cd}
end
if burst_count >= burst_limit then
    redis.call("HSET", key, "blocked_until", tostring(now + short_cd),
        "window_start", tostring(window_start), "window_count", tostring(window_count),
        "burst_start", tostring(burst_start), "burst_count", tostring(burst_count))
    redis.call("PEXPIRE", key, ttl)
    return {0, 0, short_cd}
end

window_count = window_count + 1
burst_count = burst_count + 1
redis.call("HSET", key,
    "window_start", tostring(window_start), "window_count", tostring(window_count),
    "burst_start", tostring(burst_start), "burst_count", tostring(burst_count))
redis.call("PEXPIRE", key, ttl)

local remaining = window_limit - window_count
local burst_remaining = burst_limit - burst_count
if burst_remaining < remaining then
    remaining = burst_remaining
end
return {1, remaining, 0}
`)

// Hit records one request against key and returns the verdict.
func (s *Store) Hit(ctx context.Context, key string, lim quotacore.RateLimits, now time.Time) (quotacore.Decision, error) {
	ttl := 2 * lim.WindowPeriod
	if cd := 2 * lim.LongCooldown; cd > ttl {
		ttl = cd
	}

	res, err := hitScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key},
		now.UnixMilli(),
		lim.WindowLimit, lim.WindowPeriod.Milliseconds(),
		lim.BurstLimit, lim.BurstPeriod.Milliseconds(),
		lim.ShortCooldown.Milliseconds(), lim.LongCooldown.Milliseconds(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return quotacore.Decision{}, fmt.Errorf("quotacore/redisrate: hit: %w", err)
	}
	if len(res) != 3 {
		return quotacore.Decision{}, fmt.Errorf("quotacore/redisrate: unexpected script result: %v", res)
	}

	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)
	retryMillis, _ := res[2].(int64)

	return quotacore.Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryMillis) * time.Millisecond,
	}, nil
}
