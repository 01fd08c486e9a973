// Package ratelimit: Redis-backed distributed rate limiting for the
// external analyzer's rate budget when multiple pipeline processes share
// one rate limit.
//
// Each attempt uses a Redis sorted set keyed by name. Entries are scored by
// timestamp. On each attempt we atomically:
//  1. Remove entries outside the current window
//  2. Count remaining entries
//  3. If under limit, add the new request; otherwise report the wait
//
// All operations happen in a single Lua script for atomicity.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for atomic sliding window rate limiting.
// KEYS[1] = sorted set key
// ARGV[1] = window start (oldest allowed timestamp, microseconds)
// ARGV[2] = now (microseconds)
// ARGV[3] = limit
// ARGV[4] = unique member ID
// ARGV[5] = TTL in seconds for the key (window size + buffer)
//
// Returns: {allowed (0 or 1), current_count, micros_until_oldest_expires}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, ttl)
    return {1, count + 1, 0}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local retry_after = 0
    if #oldest >= 2 then
        retry_after = tonumber(oldest[2]) - window_start
    end
    redis.call('EXPIRE', key, ttl)
    return {0, count, retry_after}
end
`)

// RedisLimiter enforces one rate limit, shared across every process using
// the same key, via Redis.
type RedisLimiter struct {
	client     *redis.Client
	logger     *slog.Logger
	key        string
	limit      int
	window     time.Duration
	failClosed bool // deny (vs. allow) requests when Redis itself errors
}

// NewRedisLimiter builds a distributed rate limiter. key namespaces the
// shared budget (e.g. "dedup:external-analyzer"); limit requests are
// allowed per window. If failClosed is false, a Redis error lets the
// caller proceed rather than blocking indefinitely on an unreachable store.
func NewRedisLimiter(client *redis.Client, logger *slog.Logger, key string, limit int, window time.Duration, failClosed bool) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger, key: key, limit: limit, window: window, failClosed: failClosed}
}

// Wait blocks until the distributed budget admits this caller, ctx is done,
// or (in fail-open mode) Redis itself becomes unreachable.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		allowed, retryAfter, err := l.attempt(ctx)
		if err != nil {
			if l.failClosed {
				return fmt.Errorf("ratelimit: redis unavailable, failing closed: %w", err)
			}
			l.logger.Warn("ratelimit: redis error, allowing request (fail-open)", "error", err, "key", l.key)
			return nil
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLimiter) attempt(ctx context.Context) (allowed bool, retryAfter time.Duration, err error) {
	now := time.Now()
	nowMicro := now.UnixMicro()
	windowStart := now.Add(-l.window).UnixMicro()
	ttlSeconds := int(l.window.Seconds()) + 10
	member := fmt.Sprintf("%d:%s", nowMicro, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.key}, windowStart, nowMicro, l.limit, member, ttlSeconds).Int64Slice()
	if err != nil {
		return false, 0, err
	}

	retryAfter = time.Duration(res[2]) * time.Microsecond
	if res[0] != 1 && retryAfter <= 0 {
		retryAfter = 50 * time.Millisecond
	}
	return res[0] == 1, retryAfter, nil
}

// Close shuts down the Redis client.
func (l *RedisLimiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
