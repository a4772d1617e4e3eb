package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Loader fetches the current value of a resource group from the backend.
type Loader interface {
	Load(ctx context.Context, group string) (interface{}, error)
}

// LoaderFunc is a function adapter for Loader
type LoaderFunc func(ctx context.Context, group string) (interface{}, error)

func (f LoaderFunc) Load(ctx context.Context, group string) (interface{}, error) {
	return f(ctx, group)
}

// Runner executes a refetch. The daemon routes refetches through the request
// scheduler so they share its concurrency and rate limits.
type Runner interface {
	Run(ctx context.Context, group string, fn func(context.Context) (interface{}, error)) (interface{}, error)
}

// RunnerFunc is a function adapter for Runner
type RunnerFunc func(ctx context.Context, group string, fn func(context.Context) (interface{}, error)) (interface{}, error)

func (f RunnerFunc) Run(ctx context.Context, group string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return f(ctx, group, fn)
}

// directRunner calls fn inline.
var directRunner = RunnerFunc(func(ctx context.Context, _ string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return fn(ctx)
})

// Forgetter drops in-flight loads whose results would repopulate an
// invalidated group.
type Forgetter interface {
	Forget(group string)
}

// ChangeKind tells subscribers what happened to a key.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeInvalidated
	ChangeRefetched
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeInvalidated:
		return "invalidated"
	case ChangeRefetched:
		return "refetched"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind ChangeKind
	Key  string
	At   time.Time
}

type groupState struct {
	loader      Loader
	ttl         time.Duration
	stale       bool
	lastFetched time.Time
}

// QueryCache is the resource-group view over a Backend. A resource group key
// names both the group's own entry and the prefix of its member keys.
type QueryCache struct {
	backend    Backend
	runner     Runner
	forgetter  Forgetter
	defaultTTL time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *managerMetrics

	mu      sync.RWMutex
	groups  map[string]*groupState
	subs    map[uint64]func(Change)
	nextSub uint64
}

// QueryOption customizes a QueryCache.
type QueryOption func(*QueryCache)

func WithRunner(r Runner) QueryOption {
	return func(q *QueryCache) { q.runner = r }
}

// WithForgetter makes Invalidate detach in-flight loads of the group before
// its keys are dropped.
func WithForgetter(f Forgetter) QueryOption {
	return func(q *QueryCache) { q.forgetter = f }
}

func WithDefaultTTL(ttl time.Duration) QueryOption {
	return func(q *QueryCache) { q.defaultTTL = ttl }
}

func WithQueryClock(c clockwork.Clock) QueryOption {
	return func(q *QueryCache) { q.clock = c }
}

func WithQueryLogger(l *zap.Logger) QueryOption {
	return func(q *QueryCache) { q.logger = l }
}

func WithQueryRegisterer(reg prometheus.Registerer) QueryOption {
	return func(q *QueryCache) { q.metrics = newManagerMetrics(reg) }
}

// NewQueryCache creates a query cache over backend.
func NewQueryCache(backend Backend, opts ...QueryOption) *QueryCache {
	q := &QueryCache{
		backend:    backend,
		runner:     directRunner,
		defaultTTL: 5 * time.Minute,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
		groups:     make(map[string]*groupState),
		subs:       make(map[uint64]func(Change)),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = newManagerMetrics(nil)
	}
	q.logger = q.logger.Named("query_cache")
	return q
}

// Register attaches a loader to group. A zero ttl uses the default TTL.
func (q *QueryCache) Register(group string, loader Loader, ttl time.Duration) {
	if ttl <= 0 {
		ttl = q.defaultTTL
	}
	q.mu.Lock()
	q.groups[group] = &groupState{loader: loader, ttl: ttl, stale: true}
	q.mu.Unlock()
}

// Groups lists registered groups in name order.
func (q *QueryCache) Groups() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.groups))
	for g := range q.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Get returns the cached value for key. Backend errors count as misses.
func (q *QueryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	v, ok, err := q.backend.Get(ctx, key)
	if err != nil {
		q.logger.Warn("query cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, ok
}

// Set stores value under key for ttl.
func (q *QueryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := q.backend.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	q.notify(Change{Kind: ChangeSet, Key: key, At: q.clock.Now()})
	return nil
}

// SetData stores value under key with the TTL of the key's group.
func (q *QueryCache) SetData(ctx context.Context, key string, value interface{}) error {
	return q.Set(ctx, key, value, q.ttlFor(key))
}

func (q *QueryCache) ttlFor(key string) time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for name, g := range q.groups {
		if key == name || strings.HasPrefix(key, name+":") {
			return g.ttl
		}
	}
	return q.defaultTTL
}

// Invalidate drops the group entry and every member key and marks the group
// stale so the next reader refetches it.
func (q *QueryCache) Invalidate(ctx context.Context, group string) error {
	if q.forgetter != nil {
		q.forgetter.Forget(group)
	}
	if err := q.backend.Delete(ctx, group); err != nil {
		return fmt.Errorf("invalidate %s: %w", group, err)
	}
	if _, err := q.backend.DeletePrefix(ctx, group+":"); err != nil {
		return fmt.Errorf("invalidate %s members: %w", group, err)
	}

	q.mu.Lock()
	if g, ok := q.groups[group]; ok {
		g.stale = true
	}
	q.mu.Unlock()

	q.metrics.invalidations.WithLabelValues(group).Inc()
	q.notify(Change{Kind: ChangeInvalidated, Key: group, At: q.clock.Now()})
	return nil
}

// Refetch loads group through the runner and stores the result under the
// group key. Groups without a loader have nothing to refetch.
func (q *QueryCache) Refetch(ctx context.Context, group string) error {
	q.mu.RLock()
	g, ok := q.groups[group]
	q.mu.RUnlock()
	if !ok {
		q.logger.Debug("no loader registered for group", zap.String("group", group))
		return nil
	}

	value, err := q.runner.Run(ctx, group, func(ctx context.Context) (interface{}, error) {
		return g.loader.Load(ctx, group)
	})
	if err != nil {
		q.metrics.refetches.WithLabelValues(group, "error").Inc()
		return fmt.Errorf("refetch %s: %w", group, err)
	}
	if err := q.backend.Set(ctx, group, value, g.ttl); err != nil {
		q.metrics.refetches.WithLabelValues(group, "error").Inc()
		return fmt.Errorf("store %s: %w", group, err)
	}

	now := q.clock.Now()
	q.mu.Lock()
	g.stale = false
	g.lastFetched = now
	q.mu.Unlock()

	q.metrics.refetches.WithLabelValues(group, "ok").Inc()
	q.notify(Change{Kind: ChangeRefetched, Key: group, At: now})
	return nil
}

// Stale reports whether group was invalidated (or never fetched) since its
// last refetch.
func (q *QueryCache) Stale(group string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	g, ok := q.groups[group]
	return !ok || g.stale
}

// Subscribe registers fn for every change and returns its unsubscribe func.
func (q *QueryCache) Subscribe(fn func(Change)) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

func (q *QueryCache) notify(c Change) {
	q.mu.RLock()
	subs := make([]func(Change), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.mu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}

// GroupStatus describes one registered group.
type GroupStatus struct {
	Group       string        `json:"group"`
	Stale       bool          `json:"stale"`
	TTL         time.Duration `json:"ttl"`
	LastFetched time.Time     `json:"last_fetched"`
}

// Status lists every registered group in name order.
func (q *QueryCache) Status() []GroupStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]GroupStatus, 0, len(q.groups))
	for name, g := range q.groups {
		out = append(out, GroupStatus{Group: name, Stale: g.stale, TTL: g.ttl, LastFetched: g.lastFetched})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}
