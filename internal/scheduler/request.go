package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Operation is the opaque unit of work admitted through the scheduler. It
// must honour ctx: the scheduler cancels it on timeout, on caller
// cancellation and on Stop.
type Operation func(ctx context.Context) (any, error)

// Options are the per-request admission parameters.
type Options struct {
	Priority   Priority
	MaxRetries int
	Timeout    time.Duration
	// CacheKey enables the result cache and in-flight dedup for this
	// request. It is independent of the request id.
	CacheKey string
	// CacheTTL overrides the scheduler default cache TTL.
	CacheTTL time.Duration
}

func (o Options) validate() error {
	switch {
	case !o.Priority.Valid():
		return fmt.Errorf("%w: priority is required", ErrInvalidOptions)
	case o.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidOptions, o.MaxRetries)
	case o.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0, got %s", ErrInvalidOptions, o.Timeout)
	case o.CacheTTL < 0:
		return fmt.Errorf("%w: cache ttl must be >= 0, got %s", ErrInvalidOptions, o.CacheTTL)
	}
	return nil
}

// QueuedRequest is the scheduler's record of an admitted request.
type QueuedRequest struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Priority   Priority  `json:"priority"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	CacheKey   string    `json:"cache_key,omitempty"`
}

// Future is the pending result of a submitted request. It resolves exactly
// once; any number of goroutines may wait on it.
type Future struct {
	id     string
	cached bool
	done   chan struct{}
	value  any
	err    error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func resolvedFuture(value any) *Future {
	f := &Future{cached: true, done: make(chan struct{}), value: value}
	close(f.done)
	return f
}

// resolve must be called once, with the scheduler lock held.
func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// ID is the request id, empty for cache hits.
func (f *Future) ID() string { return f.id }

// Cached reports whether the value came from the result cache without
// running the operation.
func (f *Future) Cached() bool { return f.cached }

// Done is closed once the future has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx ends. Abandoning the wait
// does not cancel the request; cancel the context passed to Submit for that.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type jobState int

const (
	statePending jobState = iota
	stateProcessing
	stateRetrying
	stateDone
)

func (s jobState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateProcessing:
		return "processing"
	case stateRetrying:
		return "retrying"
	default:
		return "done"
	}
}

// job carries a request through the scheduler. All fields are guarded by
// the scheduler mutex.
type job struct {
	req    QueuedRequest
	op     Operation
	opts   Options
	future *Future

	key   uint64
	state jobState
	// attempt is bumped on every dequeue; a result is only applied when it
	// matches, so late results of abandoned attempts are dropped.
	attempt uint64
	// forgotten is the attempt that was running when the cache key's group
	// was invalidated; its result is delivered but never cached.
	forgotten uint64

	ctx    context.Context
	cancel context.CancelCauseFunc

	holders int
	unwatch []func() bool
	retry   clockwork.Timer
}
