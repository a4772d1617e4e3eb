package scheduler

import (
	"fmt"
	"time"
)

// OverflowPolicy decides what Submit does when the pending queue is full.
type OverflowPolicy string

const (
	// OverflowReject fails Submit with ErrQueueFull.
	OverflowReject OverflowPolicy = "reject"
	// OverflowBlock makes Submit wait for space until its context ends.
	OverflowBlock OverflowPolicy = "block"
)

// Config holds the scheduler limits and timings.
type Config struct {
	MaxConcurrent     int
	RequestsPerSecond int

	// Bounds applied by SetMaxConcurrent and SetRequestsPerSecond.
	MinConcurrent    int
	ConcurrencyLimit int
	RateLimitCeiling int

	// QueueCapacity bounds the pending queue; 0 means unbounded.
	QueueCapacity  int
	OverflowPolicy OverflowPolicy

	RateWindow      time.Duration
	RecheckInterval time.Duration
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	DefaultCacheTTL time.Duration

	// HistoryLimit bounds the completed and failed id sets.
	HistoryLimit int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     3,
		RequestsPerSecond: 10,
		MinConcurrent:     1,
		ConcurrencyLimit:  10,
		RateLimitCeiling:  100,
		QueueCapacity:     1000,
		OverflowPolicy:    OverflowReject,
		RateWindow:        time.Second,
		RecheckInterval:   75 * time.Millisecond,
		BaseBackoff:       time.Second,
		MaxBackoff:        30 * time.Second,
		DefaultCacheTTL:   30 * time.Second,
		HistoryLimit:      1024,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinConcurrent <= 0 {
		c.MinConcurrent = d.MinConcurrent
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = d.ConcurrencyLimit
	}
	if c.RateLimitCeiling <= 0 {
		c.RateLimitCeiling = d.RateLimitCeiling
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = d.OverflowPolicy
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = d.RecheckInterval
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.DefaultCacheTTL <= 0 {
		c.DefaultCacheTTL = d.DefaultCacheTTL
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

func (c Config) validate() error {
	if c.MinConcurrent > c.ConcurrencyLimit {
		return fmt.Errorf("min concurrent %d exceeds concurrency limit %d", c.MinConcurrent, c.ConcurrencyLimit)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must be >= 0, got %d", c.QueueCapacity)
	}
	if c.OverflowPolicy != OverflowReject && c.OverflowPolicy != OverflowBlock {
		return fmt.Errorf("unknown overflow policy %q", c.OverflowPolicy)
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max backoff %s below base backoff %s", c.MaxBackoff, c.BaseBackoff)
	}
	return nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
