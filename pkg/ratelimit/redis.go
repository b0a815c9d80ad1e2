package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills continuously and takes ARGV[4] tokens when available.
// KEYS[1] bucket key; ARGV: capacity, window ms, now ms, requested.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * capacity / window)

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], window * 2)
return allowed
`)

// RedisBackend shares buckets between processes through Redis.
type RedisBackend struct {
	rdb    redis.Scripter
	prefix string
}

// NewRedisBackend stores buckets under "<prefix>:ratelimit:<provider>".
func NewRedisBackend(rdb redis.Scripter, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "atlas"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Take(ctx context.Context, key string, tokens int, p Policy) (bool, error) {
	res, err := tokenBucket.Run(ctx, b.rdb,
		[]string{b.prefix + ":ratelimit:" + key},
		p.Tokens, p.Window.Milliseconds(), time.Now().UnixMilli(), tokens,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis token bucket %s: %w", key, err)
	}
	return res == 1, nil
}
