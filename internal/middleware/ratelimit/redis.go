// Package ratelimit throttles admin API mutations with a sliding window kept
// in Redis, so several daemons sharing one Redis also share the budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Remaining is how many more requests fit in the current window.
func (d Decision) Remaining() int {
	if r := d.Limit - int(d.Count); r > 0 {
		return r
	}
	return 0
}

// Limiter decides whether one more request for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Scores are microseconds; nanoseconds overflow the Lua double mantissa.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local first = now
  if oldest[2] then
    first = tonumber(oldest[2])
  end
  return {0, count, first}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, count + 1, now}
`)

// RedisWindow is a sliding window log per key, stored as a sorted set.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

type Option func(*RedisWindow)

func WithKeyPrefix(prefix string) Option {
	return func(w *RedisWindow) { w.prefix = prefix }
}

func WithClock(c clockwork.Clock) Option {
	return func(w *RedisWindow) { w.clock = c }
}

// NewRedisWindow allows limit requests per key within any window span.
func NewRedisWindow(client redis.UniversalClient, limit int, window time.Duration, opts ...Option) (*RedisWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: nil redis client")
	}
	if limit < 1 || window <= 0 {
		return nil, fmt.Errorf("ratelimit: invalid budget %d per %s", limit, window)
	}
	w := &RedisWindow{
		client: client,
		prefix: "finsync:ratelimit:",
		limit:  limit,
		window: window,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := w.clock.Now().UnixMicro()
	window := w.window.Microseconds()
	res, err := slidingWindowScript.Run(ctx, w.client, []string{w.prefix + key},
		now, window, w.limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", key, err)
	}
	if len(res) < 3 {
		return Decision{}, fmt.Errorf("ratelimit %s: unexpected script result %v", key, res)
	}

	d := Decision{Allowed: res[0] == 1, Count: res[1], Limit: w.limit}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]+window-now) * time.Microsecond
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}
