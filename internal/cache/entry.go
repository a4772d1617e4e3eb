// Package cache implements the shared query cache: a TTL entry model, memory,
// Redis and Badger tiers, a layered manager, and the resource-group query
// cache the sync coordinator invalidates and refetches.
package cache

import (
	"context"
	"errors"
	"time"
)

// CacheLevel identifies a tier of the layered cache.
type CacheLevel int

const (
	CacheLevelL1 CacheLevel = iota // in-process memory
	CacheLevelL2                   // Redis
	CacheLevelL3                   // Badger on local disk
)

func (l CacheLevel) String() string {
	switch l {
	case CacheLevelL1:
		return "l1"
	case CacheLevelL2:
		return "l2"
	case CacheLevelL3:
		return "l3"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by tiers used after Close.
var ErrClosed = errors.New("cache backend closed")

// Entry is a cached value with the time it was stored and its time to live.
type Entry struct {
	Key      string
	Value    interface{}
	StoredAt time.Time
	TTL      time.Duration
}

// Valid reports whether the entry is still a hit at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Backend is a single cache tier. Get returns ok=false for absent or expired
// keys. Values read back from serializing tiers are json.RawMessage.
type Backend interface {
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// TTLReader is implemented by tiers that can report how long a hit stays
// valid. The layered manager uses it to backfill faster tiers without
// extending a value's lifetime.
type TTLReader interface {
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool, error)
}

// remaining is how long e stays a hit after now.
func (e Entry) remaining(now time.Time) time.Duration {
	return e.TTL - now.Sub(e.StoredAt)
}

// GroupKey builds the key of an item that belongs to a resource group, e.g.
// GroupKey("transactions", "acct-1") == "transactions:acct-1".
func GroupKey(group string, parts ...string) string {
	key := group
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
