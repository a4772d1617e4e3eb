package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys written by RedisBackend.
const DefaultRedisPrefix = "finsync:cache:"

// RedisBackend is the L2 tier shared by every daemon on the host.
type RedisBackend struct {
	client         redis.UniversalClient
	keyPrefix      string
	compressionMin int
	clock          clockwork.Clock

	hits   int64
	misses int64
	errors int64
}

// RedisOption customizes a RedisBackend.
type RedisOption func(*RedisBackend)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) { r.keyPrefix = prefix }
}

// WithCompression gzips values of at least threshold bytes; 0 disables it.
func WithCompression(threshold int) RedisOption {
	return func(r *RedisBackend) { r.compressionMin = threshold }
}

func WithRedisClock(clock clockwork.Clock) RedisOption {
	return func(r *RedisBackend) { r.clock = clock }
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{
		client:         client,
		keyPrefix:      DefaultRedisPrefix,
		compressionMin: 4096,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisBackend) Get(ctx context.Context, key string) (interface{}, bool, error) {
	v, _, ok, err := r.GetWithTTL(ctx, key)
	return v, ok, err
}

func (r *RedisBackend) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool, error) {
	raw, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&r.misses, 1)
			return nil, 0, false, nil
		}
		atomic.AddInt64(&r.errors, 1)
		return nil, 0, false, fmt.Errorf("failed to get from redis cache: %w", err)
	}

	e, err := decodeItem(key, raw)
	if err != nil {
		atomic.AddInt64(&r.errors, 1)
		return nil, 0, false, err
	}
	now := r.clock.Now()
	if !e.Valid(now) {
		atomic.AddInt64(&r.misses, 1)
		return nil, 0, false, nil
	}

	atomic.AddInt64(&r.hits, 1)
	return e.Value, e.remaining(now), true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encodeItem(value, r.clock.Now(), ttl, r.compressionMin)
	if err != nil {
		atomic.AddInt64(&r.errors, 1)
		return err
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, raw, ttl).Err(); err != nil {
		atomic.AddInt64(&r.errors, 1)
		return fmt.Errorf("failed to set redis cache: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		atomic.AddInt64(&r.errors, 1)
		return fmt.Errorf("failed to delete from redis cache: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix using SCAN so Redis is
// never blocked by KEYS.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	match := r.keyPrefix + prefix + "*"

	var cursor uint64
	deleted := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			atomic.AddInt64(&r.errors, 1)
			return deleted, fmt.Errorf("failed to scan redis cache: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				atomic.AddInt64(&r.errors, 1)
				return deleted, fmt.Errorf("failed to delete redis cache keys: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Counters returns hits, misses and errors since creation.
func (r *RedisBackend) Counters() (hits, misses, errs int64) {
	return atomic.LoadInt64(&r.hits), atomic.LoadInt64(&r.misses), atomic.LoadInt64(&r.errors)
}
