package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Level pairs a backend with its position in the hierarchy.
type Level struct {
	Level   CacheLevel
	Backend Backend
}

// ManagerStats is a point-in-time snapshot of the manager counters.
type ManagerStats struct {
	Hits   map[string]int64 `json:"hits"`
	Misses int64            `json:"misses"`
	Errors int64            `json:"errors"`
}

// Manager layers several tiers: reads walk them fastest first and backfill
// the faster ones on a lower-level hit, writes go to every tier. It
// satisfies Backend itself.
type Manager struct {
	levels  []Level
	logger  *zap.Logger
	metrics *managerMetrics

	hits   []int64
	misses int64
	errs   int64
}

// NewManager builds a layered cache over levels, ordered fastest first.
func NewManager(logger *zap.Logger, reg prometheus.Registerer, levels ...Level) (*Manager, error) {
	if len(levels) == 0 {
		return nil, errors.New("cache manager needs at least one level")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		levels:  levels,
		logger:  logger.Named("cache"),
		metrics: newManagerMetrics(reg),
		hits:    make([]int64, len(levels)),
	}, nil
}

func (m *Manager) Get(ctx context.Context, key string) (interface{}, bool, error) {
	for i, lvl := range m.levels {
		var (
			value interface{}
			ttl   time.Duration
			ok    bool
			err   error
		)
		if r, isReader := lvl.Backend.(TTLReader); isReader {
			value, ttl, ok, err = r.GetWithTTL(ctx, key)
		} else {
			value, ok, err = lvl.Backend.Get(ctx, key)
		}
		if err != nil {
			m.recordError(lvl.Level, "get", key, err)
			continue
		}
		if !ok {
			continue
		}

		atomic.AddInt64(&m.hits[i], 1)
		m.metrics.hits.WithLabelValues(lvl.Level.String()).Inc()
		if i > 0 && ttl > 0 {
			m.backfill(ctx, key, value, ttl, i)
		}
		return value, true, nil
	}

	atomic.AddInt64(&m.misses, 1)
	m.metrics.misses.Inc()
	return nil, false, nil
}

// backfill copies a lower-level hit into the faster levels for the time it
// has left, capped by backfillTTL.
func (m *Manager) backfill(ctx context.Context, key string, value interface{}, ttl time.Duration, found int) {
	if ttl > backfillTTL {
		ttl = backfillTTL
	}
	for _, lvl := range m.levels[:found] {
		if err := lvl.Backend.Set(ctx, key, value, ttl); err != nil {
			m.recordError(lvl.Level, "backfill", key, err)
		}
	}
}

// backfillTTL bounds how long a value promoted from a slower tier may be
// served by a faster one without consulting the slower tier again.
const backfillTTL = 5 * time.Second

func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var errs error
	for _, lvl := range m.levels {
		if err := lvl.Backend.Set(ctx, key, value, ttl); err != nil {
			m.recordError(lvl.Level, "set", key, err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", lvl.Level, err))
		}
	}
	return errs
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	var errs error
	for _, lvl := range m.levels {
		if err := lvl.Backend.Delete(ctx, key); err != nil {
			m.recordError(lvl.Level, "delete", key, err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", lvl.Level, err))
		}
	}
	return errs
}

// DeletePrefix clears the prefix on every level; a failing level does not
// stop the others. The count is the largest per-level count.
func (m *Manager) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var errs error
	deleted := 0
	for _, lvl := range m.levels {
		n, err := lvl.Backend.DeletePrefix(ctx, prefix)
		if err != nil {
			m.recordError(lvl.Level, "delete_prefix", prefix, err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", lvl.Level, err))
		}
		if n > deleted {
			deleted = n
		}
	}
	return deleted, errs
}

func (m *Manager) recordError(level CacheLevel, op, key string, err error) {
	atomic.AddInt64(&m.errs, 1)
	m.metrics.errors.WithLabelValues(level.String(), op).Inc()
	m.logger.Warn("cache level operation failed",
		zap.String("level", level.String()),
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() ManagerStats {
	s := ManagerStats{
		Hits:   make(map[string]int64, len(m.levels)),
		Misses: atomic.LoadInt64(&m.misses),
		Errors: atomic.LoadInt64(&m.errs),
	}
	for i, lvl := range m.levels {
		s.Hits[lvl.Level.String()] = atomic.LoadInt64(&m.hits[i])
	}
	return s
}
