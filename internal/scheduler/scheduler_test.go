package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/finsync/internal/cache"
)

func newTestScheduler(t *testing.T, backend cache.Backend, mutate func(*Config), opts ...Option) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 100
	cfg.BaseBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond
	cfg.RecheckInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()),
	}, opts...)
	s, err := New(cfg, backend, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func reqOpts(p Priority) Options {
	return Options{Priority: p, MaxRetries: 0, Timeout: time.Second}
}

func value(v any) Operation {
	return func(context.Context) (any, error) { return v, nil }
}

func await(t *testing.T, f *Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func TestPriorityOrderWithinAndAcrossTiers(t *testing.T) {
	s := newTestScheduler(t, nil, func(c *Config) { c.MaxConcurrent = 1 })

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Operation {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	ctx := context.Background()
	submitted := []struct {
		name string
		p    Priority
	}{
		{"low", PriorityLow},
		{"high-1", PriorityHigh},
		{"critical", PriorityCritical},
		{"medium", PriorityMedium},
		{"high-2", PriorityHigh},
	}
	futures := make([]*Future, 0, len(submitted))
	for _, r := range submitted {
		f, err := s.Submit(ctx, record(r.name), reqOpts(r.p))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	assert.Equal(t, 5, s.Stats().Pending)

	require.NoError(t, s.Start(ctx))
	for _, f := range futures {
		_, err := await(t, f)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "high-1", "high-2", "medium", "low"}, order)
}

func TestConcurrencyCap(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	gate := make(chan struct{})
	var running, peak atomic.Int32
	op := func(context.Context) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		running.Add(-1)
		return nil, nil
	}

	futures := make([]*Future, 10)
	for i := range futures {
		f, err := s.Submit(ctx, op, reqOpts(PriorityMedium))
		require.NoError(t, err)
		futures[i] = f
	}

	require.Eventually(t, func() bool { return s.Stats().Processing == 3 }, time.Second, 5*time.Millisecond)
	st := s.Stats()
	assert.Equal(t, 7, st.Pending)
	assert.Equal(t, 3, st.MaxConcurrent)

	close(gate)
	for _, f := range futures {
		_, err := await(t, f)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, uint64(10), s.Stats().Completed)
}

func TestRateLimitHoldsAcrossWindowBoundary(t *testing.T) {
	const window = 200 * time.Millisecond
	s := newTestScheduler(t, nil, func(c *Config) {
		c.MaxConcurrent = 10
		c.RequestsPerSecond = 5
		c.RateWindow = window
	})
	ctx := context.Background()

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	op := func(context.Context) (any, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil, nil
	}
	futures := make([]*Future, 12)
	for i := range futures {
		f, err := s.Submit(ctx, op, reqOpts(PriorityLow))
		require.NoError(t, err)
		futures[i] = f
	}
	require.NoError(t, s.Start(ctx))
	for _, f := range futures {
		_, err := await(t, f)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 12)
	for i := 0; i+5 < len(starts); i++ {
		gap := starts[i+5].Sub(starts[i])
		assert.GreaterOrEqual(t, gap, window-50*time.Millisecond, "starts %d and %d only %s apart", i, i+5, gap)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	var retries []time.Duration
	var mu sync.Mutex
	obs := &recordingObserver{onRetry: func(_ QueuedRequest, d time.Duration, _ error) {
		mu.Lock()
		retries = append(retries, d)
		mu.Unlock()
	}}
	s := newTestScheduler(t, nil, nil, WithObserver(obs))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var calls atomic.Int32
	op := func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("backend unavailable")
		}
		return "ok", nil
	}
	f, err := s.Submit(ctx, op, Options{Priority: PriorityHigh, MaxRetries: 3, Timeout: time.Second})
	require.NoError(t, err)

	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "completed", s.State(f.ID()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, retries)
}

func TestRetryBudgetExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	retried := make(chan time.Duration, 8)
	obs := &recordingObserver{onRetry: func(_ QueuedRequest, d time.Duration, _ error) { retried <- d }}
	s := newTestScheduler(t, nil, func(c *Config) { c.MaxBackoff = 25 * time.Millisecond },
		WithClock(clock), WithObserver(obs))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	boom := errors.New("boom")
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	f, err := s.Submit(ctx, func(context.Context) (any, error) {
		mu.Lock()
		starts = append(starts, clock.Now())
		mu.Unlock()
		return nil, boom
	}, Options{Priority: PriorityMedium, MaxRetries: 4, Timeout: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		select {
		case d := <-retried:
			clock.Advance(d)
		case <-time.After(5 * time.Second):
			t.Fatalf("retry %d was never scheduled", i+1)
		}
	}

	_, err = await(t, f)
	require.ErrorIs(t, err, boom)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 5, reqErr.Attempts)
	assert.Equal(t, "failed", s.State(f.ID()))
	assert.Equal(t, uint64(1), s.Stats().Failed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 5)
	var gaps []time.Duration
	for i := 1; i < len(starts); i++ {
		gaps = append(gaps, starts[i].Sub(starts[i-1]))
	}
	for i := 1; i < len(gaps); i++ {
		assert.GreaterOrEqual(t, gaps[i], gaps[i-1], "gap %d shrank", i)
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond,
	}, gaps)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var calls atomic.Int32
	f, err := s.Submit(ctx, func(context.Context) (any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("validation failed"))
	}, Options{Priority: PriorityHigh, MaxRetries: 5, Timeout: time.Second})
	require.NoError(t, err)

	_, err = await(t, f)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutCancelsOperation(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	observed := make(chan error, 1)
	f, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		observed <- context.Cause(ctx)
		return nil, ctx.Err()
	}, Options{Priority: PriorityCritical, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = await(t, f)
	require.ErrorIs(t, err, ErrTimeout)
	select {
	case cause := <-observed:
		assert.ErrorIs(t, cause, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("operation did not observe cancellation")
	}
}

func TestResultCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backend := cache.NewMemoryBackend(clock)
	s := newTestScheduler(t, backend, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var calls atomic.Int32
	op := func(context.Context) (any, error) {
		return calls.Add(1), nil
	}
	o := Options{Priority: PriorityMedium, Timeout: time.Second, CacheKey: "accounts", CacheTTL: 30 * time.Second}

	f, err := s.Submit(ctx, op, o)
	require.NoError(t, err)
	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
	assert.False(t, f.Cached())

	f, err = s.Submit(ctx, op, o)
	require.NoError(t, err)
	assert.True(t, f.Cached())
	v, err = await(t, f)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), s.Stats().Completed)

	clock.Advance(31 * time.Second)
	f, err = s.Submit(ctx, op, o)
	require.NoError(t, err)
	assert.False(t, f.Cached())
	v, err = await(t, f)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestInFlightDedup(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	gate := make(chan struct{})
	var calls atomic.Int32
	op := func(context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "budgets", nil
	}
	o := Options{Priority: PriorityMedium, Timeout: time.Second, CacheKey: "budgets"}

	callerCtx, cancelCaller := context.WithCancel(ctx)
	first, err := s.Submit(callerCtx, op, o)
	require.NoError(t, err)
	second, err := s.Submit(ctx, op, o)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	// One holder leaving does not cancel the shared request.
	cancelCaller()
	close(gate)

	for _, f := range []*Future{first, second} {
		v, err := await(t, f)
		require.NoError(t, err)
		assert.Equal(t, "budgets", v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidatedReadIsNotCached(t *testing.T) {
	backend := cache.NewMemoryBackend(nil)
	s := newTestScheduler(t, backend, nil)
	q := cache.NewQueryCache(backend, cache.WithForgetter(s))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var version atomic.Value
	version.Store("old")
	started := make(chan struct{})
	gate := make(chan struct{})
	o := Options{Priority: PriorityMedium, Timeout: 5 * time.Second, CacheKey: "transactions:acct-1", CacheTTL: time.Minute}

	first, err := s.Submit(ctx, func(context.Context) (any, error) {
		v := version.Load()
		close(started)
		<-gate
		return v, nil
	}, o)
	require.NoError(t, err)
	<-started

	version.Store("new")
	require.NoError(t, q.Invalidate(ctx, "transactions"))
	close(gate)

	v, err := await(t, first)
	require.NoError(t, err)
	assert.Equal(t, "old", v, "callers of the running read still get its result")

	_, ok, err := backend.Get(ctx, "transactions:acct-1")
	require.NoError(t, err)
	assert.False(t, ok)

	second, err := s.Submit(ctx, func(context.Context) (any, error) { return version.Load(), nil }, o)
	require.NoError(t, err)
	assert.False(t, second.Cached())
	v, err = await(t, second)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestInvalidationDetachesInFlightRead(t *testing.T) {
	backend := cache.NewMemoryBackend(nil)
	s := newTestScheduler(t, backend, nil)
	q := cache.NewQueryCache(backend, cache.WithForgetter(s))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var version atomic.Value
	version.Store("old")
	started := make(chan struct{})
	gate := make(chan struct{})
	read := func(context.Context) (any, error) { return version.Load(), nil }
	o := Options{Priority: PriorityMedium, Timeout: 5 * time.Second, CacheKey: "itineraries:trip-9", CacheTTL: time.Minute}

	first, err := s.Submit(ctx, func(context.Context) (any, error) {
		v := version.Load()
		close(started)
		<-gate
		return v, nil
	}, o)
	require.NoError(t, err)
	<-started

	version.Store("new")
	require.NoError(t, q.Invalidate(ctx, "itineraries"))

	second, err := s.Submit(ctx, read, o)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	v, err := await(t, second)
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	close(gate)
	v, err = await(t, first)
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	third, err := s.Submit(ctx, read, o)
	require.NoError(t, err)
	assert.True(t, third.Cached())
	v, err = await(t, third)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestForgetLeavesOtherGroupsJoinable(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	started := make(chan struct{})
	gate := make(chan struct{})
	o := Options{Priority: PriorityMedium, Timeout: 5 * time.Second, CacheKey: "transactions-archive:acct-1"}
	first, err := s.Submit(ctx, func(context.Context) (any, error) {
		close(started)
		<-gate
		return "archive", nil
	}, o)
	require.NoError(t, err)
	<-started

	s.Forget("transactions")
	second, err := s.Submit(ctx, value("unused"), o)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	close(gate)
	v, err := await(t, second)
	require.NoError(t, err)
	assert.Equal(t, "archive", v)
}

func TestCancelLastHolderCancelsRequest(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	s.Pause()
	require.NoError(t, s.Start(ctx))

	callerCtx, cancel := context.WithCancel(ctx)
	var calls atomic.Int32
	f, err := s.Submit(callerCtx, func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}, reqOpts(PriorityLow))
	require.NoError(t, err)

	cancel()
	_, err = await(t, f)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Stats().Pending)
	assert.Equal(t, "failed", s.State(f.ID()))

	s.Resume()
	assert.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCancelInFlightRequest(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	callerCtx, cancel := context.WithCancel(ctx)
	started := make(chan struct{})
	f, err := s.Submit(callerCtx, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{Priority: PriorityHigh, MaxRetries: 3, Timeout: 5 * time.Second})
	require.NoError(t, err)

	<-started
	cancel()
	_, err = await(t, f)
	require.ErrorIs(t, err, context.Canceled)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 1, reqErr.Attempts)
}

func TestQueueFullReject(t *testing.T) {
	s := newTestScheduler(t, nil, func(c *Config) { c.QueueCapacity = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Submit(ctx, value(i), reqOpts(PriorityLow))
		require.NoError(t, err)
	}
	_, err := s.Submit(ctx, value(3), reqOpts(PriorityLow))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, s.Stats().Pending)
}

func TestQueueFullBlock(t *testing.T) {
	s := newTestScheduler(t, nil, func(c *Config) {
		c.QueueCapacity = 1
		c.OverflowPolicy = OverflowBlock
	})
	ctx := context.Background()

	_, err := s.Submit(ctx, value(1), reqOpts(PriorityLow))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.Submit(short, value(2), reqOpts(PriorityLow))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	admitted := make(chan *Future, 1)
	go func() {
		f, err := s.Submit(ctx, value(3), reqOpts(PriorityLow))
		if err == nil {
			admitted <- f
		}
		close(admitted)
	}()

	require.NoError(t, s.Start(ctx))
	select {
	case f, ok := <-admitted:
		require.True(t, ok, "blocked submit failed")
		v, err := await(t, f)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submit was never admitted")
	}
}

func TestPauseResume(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	s.Pause()
	f, err := s.Submit(ctx, value("later"), reqOpts(PriorityCritical))
	require.NoError(t, err)

	st := s.Stats()
	assert.True(t, st.Paused)
	assert.Equal(t, 0, st.MaxConcurrent)
	assert.Never(t, func() bool {
		select {
		case <-f.Done():
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	// Changing the cap while paused applies on resume.
	assert.Equal(t, 5, s.SetMaxConcurrent(5))
	assert.Equal(t, 0, s.Stats().MaxConcurrent)

	s.Resume()
	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "later", v)
	assert.Equal(t, 5, s.Stats().MaxConcurrent)
}

func TestLimitsAreClamped(t *testing.T) {
	s := newTestScheduler(t, nil, nil)

	assert.Equal(t, 1, s.SetMaxConcurrent(0))
	assert.Equal(t, 10, s.SetMaxConcurrent(50))
	assert.Equal(t, 1, s.SetRequestsPerSecond(-3))
	assert.Equal(t, 100, s.SetRequestsPerSecond(1000))

	mc, rps := s.Limits()
	assert.Equal(t, 10, mc)
	assert.Equal(t, 100, rps)
}

func TestInvalidOptions(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()

	cases := map[string]Options{
		"missing priority":   {MaxRetries: 1, Timeout: time.Second},
		"negative retries":   {Priority: PriorityLow, MaxRetries: -1, Timeout: time.Second},
		"zero timeout":       {Priority: PriorityLow},
		"negative cache ttl": {Priority: PriorityLow, Timeout: time.Second, CacheKey: "k", CacheTTL: -time.Second},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Submit(ctx, value(nil), o)
			require.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	_, err := s.Submit(ctx, nil, reqOpts(PriorityLow))
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, 0, s.Stats().Pending)
}

func TestStopRejectsPending(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()

	f, err := s.Submit(ctx, value(1), reqOpts(PriorityLow))
	require.NoError(t, err)

	s.Stop()
	_, err = await(t, f)
	require.ErrorIs(t, err, ErrStopped)

	_, err = s.Submit(ctx, value(2), reqOpts(PriorityLow))
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, s.Start(ctx), ErrStopped)
}

func TestShutdownDrains(t *testing.T) {
	s := newTestScheduler(t, nil, func(c *Config) { c.MaxConcurrent = 1 })
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	futures := make([]*Future, 4)
	for i := range futures {
		f, err := s.Submit(ctx, func(context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		}, reqOpts(PriorityMedium))
		require.NoError(t, err)
		futures[i] = f
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))
	for _, f := range futures {
		_, err := await(t, f)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(4), s.Stats().Completed)
}

func TestPanickingOperationFails(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	f, err := s.Submit(ctx, func(context.Context) (any, error) {
		panic("nil map")
	}, reqOpts(PriorityLow))
	require.NoError(t, err)

	_, err = await(t, f)
	require.ErrorContains(t, err, "operation panicked")
}

func TestObserverSeesLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, nil, nil, WithObserver(obs))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	f, err := s.Submit(ctx, value("x"), reqOpts(PriorityHigh))
	require.NoError(t, err)
	_, err = await(t, f)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return obs.succeeded.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), obs.queued.Load())
	assert.Equal(t, int32(1), obs.started.Load())
	assert.Equal(t, int32(0), obs.failed.Load())
}

func TestAddObserverAfterConstruction(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	obs := &recordingObserver{}
	s.AddObserver(obs)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	f, err := s.Submit(ctx, func(context.Context) (any, error) {
		return nil, Permanent(errors.New("bad request"))
	}, reqOpts(PriorityMedium))
	require.NoError(t, err)
	_, err = await(t, f)
	require.Error(t, err)

	require.Eventually(t, func() bool { return obs.failed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), obs.succeeded.Load())
}

type recordingObserver struct {
	NopObserver
	queued, started, succeeded, failed atomic.Int32
	onRetry                            func(QueuedRequest, time.Duration, error)
}

func (o *recordingObserver) OnQueued(QueuedRequest)                   { o.queued.Add(1) }
func (o *recordingObserver) OnStarted(QueuedRequest)                  { o.started.Add(1) }
func (o *recordingObserver) OnSucceeded(QueuedRequest, time.Duration) { o.succeeded.Add(1) }
func (o *recordingObserver) OnFailed(QueuedRequest, error)            { o.failed.Add(1) }

func (o *recordingObserver) OnRetry(req QueuedRequest, d time.Duration, err error) {
	if o.onRetry != nil {
		o.onRetry(req, d, err)
	}
}
