package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// Token bucket evaluated atomically server-side. Tokens refill continuously
// at rate/minute up to capacity; one token per report.
var reportBucketScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + (elapsed * rate / 60000))

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', key, 120000)
return allowed
`)

// ReportRateLimiter implements token bucket rate limiting for device
// reports.
type ReportRateLimiter struct {
	rdb      *goredis.Client
	clock    clockwork.Clock
	capacity int
	rate     int // tokens per minute
}

// NewReportRateLimiter creates a report rate limiter.
// capacity: maximum burst size (tokens)
// rate: sustained rate (tokens per minute)
func NewReportRateLimiter(rdb *goredis.Client, clock clockwork.Clock, capacity, rate int) *ReportRateLimiter {
	return &ReportRateLimiter{
		rdb:      rdb,
		clock:    clock,
		capacity: capacity,
		rate:     rate,
	}
}

// Allow checks whether a report from the device may be processed. Returns
// true if allowed (token consumed), false if rate limited.
func (l *ReportRateLimiter) Allow(ctx context.Context, deviceID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("rate_limit:reports:%s", deviceID)

	result, err := reportBucketScript.Run(ctx, l.rdb,
		[]string{key},
		l.clock.Now().UnixMilli(),
		l.capacity,
		l.rate,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return result == 1, nil
}
