// Package scheduler admits outbound backend calls under a priority order, a
// concurrency cap and a per-window rate limit, with per-request timeout,
// retry with exponential backoff, and a TTL result cache keyed by an
// optional cache key.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/internal/cache"
)

const tracerName = "github.com/Aidin1998/finsync/internal/scheduler"

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Pending            int            `json:"pending"`
	Processing         int            `json:"processing"`
	Retrying           int            `json:"retrying"`
	Completed          uint64         `json:"completed"`
	Failed             uint64         `json:"failed"`
	MaxConcurrent      int            `json:"max_concurrent"`
	RequestsPerSecond  int            `json:"requests_per_second"`
	CurrentWindowCount int            `json:"current_window_count"`
	Paused             bool           `json:"paused"`
	QueueCapacity      int            `json:"queue_capacity"`
	PendingByPriority  map[string]int `json:"pending_by_priority"`
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.registerer = reg }
}

// WithObserver adds an observer; it may be given several times.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// Scheduler is the request admission scheduler. Requests are queued by
// Submit and only start once Start has been called.
type Scheduler struct {
	cfg        Config
	backend    cache.Backend
	clock      clockwork.Clock
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *schedulerMetrics
	tracer     trace.Tracer

	obsMu     sync.RWMutex
	observers []Observer

	// storeMu orders result cache writes against Forget: writers hold it
	// shared, Forget exclusively.
	storeMu sync.RWMutex

	mu             sync.Mutex
	queue          requestQueue
	processing     map[string]*job
	retrying       map[string]*job
	inflight       map[string]*job // by cache key
	completed      *idHistory
	failed         *idHistory
	completedTotal uint64
	failedTotal    uint64
	maxConcurrent  int
	paused         bool
	window         *rateWindow
	started        bool
	closing        bool
	stopped        bool
	recheck        clockwork.Timer
	// changed is closed and replaced whenever a job leaves the pending
	// queue or finishes; blocked submitters and Shutdown wait on it.
	changed chan struct{}

	// dispatching is the busy flag of the dispatch pass; redispatch records
	// that another pass was requested while one was running.
	dispatching atomic.Bool
	redispatch  atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler. backend may be nil, which disables the result
// cache; cache keys then only dedup in-flight requests.
func New(cfg Config, backend cache.Backend, opts ...Option) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		cfg:        cfg,
		backend:    backend,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
		processing: make(map[string]*job),
		retrying:   make(map[string]*job),
		inflight:   make(map[string]*job),
		completed:  newIDHistory(cfg.HistoryLimit),
		failed:     newIDHistory(cfg.HistoryLimit),
		changed:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.logger = s.logger.Named("scheduler")
	s.metrics = newSchedulerMetrics(s.registerer)
	s.maxConcurrent = clamp(cfg.MaxConcurrent, cfg.MinConcurrent, cfg.ConcurrencyLimit)
	s.window = newRateWindow(clamp(cfg.RequestsPerSecond, 1, cfg.RateLimitCeiling), cfg.RateWindow)
	s.updateGaugesLocked()
	return s, nil
}

// Start launches the window ticker and begins dequeuing. Cancelling ctx
// stops the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.windowLoop(ctx)

	s.logger.Info("scheduler started",
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
		zap.Int("requests_per_second", s.cfg.RequestsPerSecond),
		zap.Int("queue_capacity", s.cfg.QueueCapacity))
	s.dispatch()
	return nil
}

func (s *Scheduler) windowLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.RateWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			s.mu.Lock()
			s.window.reset()
			s.mu.Unlock()
			s.dispatch()
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		}
	}
}

// Stop rejects everything pending or waiting to retry with ErrStopped,
// cancels in-flight attempts and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	if s.recheck != nil {
		s.recheck.Stop()
		s.recheck = nil
	}

	var rejected []QueuedRequest
	for _, j := range s.queue.drain() {
		s.finishLocked(j, nil, &RequestError{ID: j.req.ID, Attempts: j.req.RetryCount, Err: ErrStopped}, "stopped")
		rejected = append(rejected, j.req)
	}
	for id, j := range s.retrying {
		j.retry.Stop()
		delete(s.retrying, id)
		s.finishLocked(j, nil, &RequestError{ID: id, Attempts: j.req.RetryCount, Err: ErrStopped}, "stopped")
		rejected = append(rejected, j.req)
	}
	for _, j := range s.processing {
		j.cancel(ErrStopped)
	}
	s.broadcastLocked()
	s.updateGaugesLocked()
	s.mu.Unlock()

	for _, req := range rejected {
		req := req
		s.notify(func(o Observer) { o.OnFailed(req, ErrStopped) })
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped", zap.Int("rejected", len(rejected)))
}

// Shutdown stops admitting new requests, waits for queued and in-flight
// work to finish, then stops. If ctx ends first the remainder is rejected.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for s.queue.len() > 0 || len(s.processing) > 0 || len(s.retrying) > 0 {
		if !s.started || s.stopped {
			break
		}
		changed := s.changed
		s.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.mu.Unlock()
	s.Stop()
	return nil
}

// Submit admits op. With a cache key and a valid cached result the returned
// future is already resolved; with a cache key that is already queued or in
// flight the caller joins that request. Cancelling ctx withdraws the
// caller's interest: the request is cancelled once no caller is left.
func (s *Scheduler) Submit(ctx context.Context, op Operation, opts Options) (*Future, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: operation is nil", ErrInvalidOptions)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.CacheKey != "" && opts.CacheTTL == 0 {
		opts.CacheTTL = s.cfg.DefaultCacheTTL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f := s.cachedResult(ctx, opts.CacheKey); f != nil {
		return f, nil
	}

	s.mu.Lock()
	for {
		if s.stopped || s.closing {
			s.mu.Unlock()
			return nil, ErrStopped
		}
		if opts.CacheKey != "" {
			if j, ok := s.inflight[opts.CacheKey]; ok {
				s.watchLocked(ctx, j)
				s.mu.Unlock()
				s.metrics.joined.Inc()
				return j.future, nil
			}
		}
		if s.cfg.QueueCapacity == 0 || s.queue.len() < s.cfg.QueueCapacity {
			break
		}
		if s.cfg.OverflowPolicy == OverflowReject {
			s.mu.Unlock()
			s.metrics.rejected.Inc()
			return nil, ErrQueueFull
		}
		changed := s.changed
		s.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
	}

	j := s.newJobLocked(ctx, op, opts)
	s.queue.push(j)
	if opts.CacheKey != "" {
		s.inflight[opts.CacheKey] = j
	}
	req := j.req
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.metrics.queued.WithLabelValues(req.Priority.String()).Inc()
	s.notify(func(o Observer) { o.OnQueued(req) })
	s.dispatch()
	return j.future, nil
}

func (s *Scheduler) cachedResult(ctx context.Context, key string) *Future {
	if key == "" || s.backend == nil {
		return nil
	}
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("result cache read failed", zap.String("cache_key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	s.metrics.cacheHits.Inc()
	return resolvedFuture(v)
}

func (s *Scheduler) newJobLocked(ctx context.Context, op Operation, opts Options) *job {
	id := uuid.NewString()
	// The operation keeps the caller's values (trace context) but not its
	// cancellation; cancellation is handled per holder in release.
	jctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	j := &job{
		req: QueuedRequest{
			ID:         id,
			EnqueuedAt: s.clock.Now(),
			Priority:   opts.Priority,
			MaxRetries: opts.MaxRetries,
			CacheKey:   opts.CacheKey,
		},
		op:     op,
		opts:   opts,
		future: newFuture(id),
		state:  statePending,
		ctx:    jctx,
		cancel: cancel,
	}
	s.watchLocked(ctx, j)
	return j
}

// watchLocked registers ctx as a holder of j.
func (s *Scheduler) watchLocked(ctx context.Context, j *job) {
	j.holders++
	if ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, func() {
		s.release(j, context.Cause(ctx))
	})
	j.unwatch = append(j.unwatch, stop)
}

// release drops one holder of j; the last one cancels the request.
func (s *Scheduler) release(j *job, cause error) {
	s.mu.Lock()
	if j.state == stateDone {
		s.mu.Unlock()
		return
	}
	j.holders--
	if j.holders > 0 {
		s.mu.Unlock()
		return
	}

	var canceled *RequestError
	switch j.state {
	case statePending:
		s.queue.remove(j)
		canceled = &RequestError{ID: j.req.ID, Attempts: j.req.RetryCount, Err: cause}
	case stateRetrying:
		j.retry.Stop()
		delete(s.retrying, j.req.ID)
		canceled = &RequestError{ID: j.req.ID, Attempts: j.req.RetryCount, Err: cause}
	case stateProcessing:
		j.cancel(cause)
	}
	req := j.req
	if canceled != nil {
		s.finishLocked(j, nil, canceled, "canceled")
		s.updateGaugesLocked()
	}
	s.mu.Unlock()

	if canceled != nil {
		s.logger.Debug("request canceled by caller", zap.String("id", req.ID), zap.Error(cause))
		s.notify(func(o Observer) { o.OnFailed(req, canceled) })
	}
}

// dispatch runs dispatch passes until no further pass was requested. A call
// arriving while a pass runs only flags the running dispatcher to loop once
// more, so passes never overlap.
func (s *Scheduler) dispatch() {
	s.redispatch.Store(true)
	for s.redispatch.Load() {
		if !s.dispatching.CompareAndSwap(false, true) {
			return
		}
		s.redispatch.Store(false)
		s.dispatchPass()
		s.dispatching.Store(false)
	}
}

type startedAttempt struct {
	job     *job
	attempt uint64
	req     QueuedRequest
}

func (s *Scheduler) dispatchPass() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}

	var started []startedAttempt
	limit := s.effectiveConcurrencyLocked()
	rateLimited := false
	for s.queue.len() > 0 && len(s.processing) < limit {
		now := s.clock.Now()
		if !s.window.allow(now) {
			rateLimited = true
			break
		}
		j := s.queue.pop()
		s.window.record(now)
		j.state = stateProcessing
		j.attempt++
		s.processing[j.req.ID] = j
		started = append(started, startedAttempt{job: j, attempt: j.attempt, req: j.req})
	}
	if rateLimited {
		s.armRecheckLocked()
	}
	if len(started) > 0 {
		s.broadcastLocked()
		s.updateGaugesLocked()
	}
	s.wg.Add(len(started))
	s.mu.Unlock()

	now := s.clock.Now()
	for _, st := range started {
		st := st
		s.metrics.started.WithLabelValues(st.req.Priority.String()).Inc()
		if st.req.RetryCount == 0 {
			s.metrics.queueWait.Observe(now.Sub(st.req.EnqueuedAt).Seconds())
		}
		s.notify(func(o Observer) { o.OnStarted(st.req) })
		go s.execute(st)
	}
}

// armRecheckLocked schedules a deferred dispatch while the rate window is
// exhausted.
func (s *Scheduler) armRecheckLocked() {
	if s.recheck != nil {
		return
	}
	s.recheck = s.clock.AfterFunc(s.cfg.RecheckInterval, func() {
		s.mu.Lock()
		s.recheck = nil
		s.mu.Unlock()
		s.dispatch()
	})
}

type attemptResult struct {
	value any
	err   error
}

func call(ctx context.Context, op Operation) (res attemptResult) {
	defer func() {
		if r := recover(); r != nil {
			res = attemptResult{err: fmt.Errorf("operation panicked: %v", r)}
		}
	}()
	v, err := op(ctx)
	return attemptResult{value: v, err: err}
}

func (s *Scheduler) execute(st startedAttempt) {
	defer s.wg.Done()
	j := st.job
	start := s.clock.Now()

	attemptCtx, cancel := context.WithCancelCause(j.ctx)
	timer := s.clock.AfterFunc(j.opts.Timeout, func() { cancel(ErrTimeout) })
	ctx, span := s.tracer.Start(attemptCtx, "scheduler.attempt", trace.WithAttributes(
		attribute.String("request.id", st.req.ID),
		attribute.String("request.priority", st.req.Priority.String()),
		attribute.Int("request.retry_count", st.req.RetryCount),
	))

	results := make(chan attemptResult, 1)
	go func() { results <- call(ctx, j.op) }()

	var (
		res      attemptResult
		returned bool
	)
	select {
	case res = <-results:
		returned = true
	case <-attemptCtx.Done():
	}
	// A cancelled attempt reports why it was cancelled rather than the
	// operation's own context error.
	if attemptCtx.Err() != nil && (!returned || res.err != nil) {
		res = attemptResult{err: context.Cause(attemptCtx)}
	}
	timer.Stop()
	cancel(context.Canceled)

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	span.End()

	elapsed := s.clock.Since(start)
	s.metrics.attemptDuration.Observe(elapsed.Seconds())
	s.complete(st, res, elapsed)
}

func (s *Scheduler) complete(st startedAttempt, res attemptResult, elapsed time.Duration) {
	j, req := st.job, st.req

	// Store before resolving so a caller that awaits and resubmits hits.
	if res.err == nil && j.opts.CacheKey != "" && s.backend != nil {
		s.store(st, res.value)
	}

	s.mu.Lock()
	if j.attempt != st.attempt || j.state != stateProcessing {
		s.mu.Unlock()
		s.logger.Debug("discarding stale attempt result", zap.String("id", req.ID))
		return
	}
	delete(s.processing, req.ID)

	var event func(Observer)
	switch {
	case res.err == nil:
		s.finishLocked(j, res.value, nil, "")
		event = func(o Observer) { o.OnSucceeded(req, elapsed) }

	case s.retryableLocked(j, res.err):
		delay := Backoff(s.cfg.BaseBackoff, s.cfg.MaxBackoff, j.req.RetryCount)
		j.req.RetryCount++
		j.state = stateRetrying
		s.retrying[req.ID] = j
		j.retry = s.clock.AfterFunc(delay, func() { s.requeue(j) })
		s.metrics.retries.Inc()
		s.logger.Debug("request attempt failed, retrying",
			zap.String("id", req.ID),
			zap.Int("retry", j.req.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(res.err))
		err := res.err
		event = func(o Observer) { o.OnRetry(req, delay, err) }

	default:
		cause := res.err
		if c := context.Cause(j.ctx); c != nil {
			cause = c
		}
		final := &RequestError{ID: req.ID, Attempts: j.req.RetryCount + 1, Err: cause}
		reason := failureReason(cause)
		s.finishLocked(j, nil, final, reason)
		s.logger.Warn("request failed",
			zap.String("id", req.ID),
			zap.String("priority", req.Priority.String()),
			zap.String("reason", reason),
			zap.Int("attempts", final.Attempts),
			zap.Error(cause))
		event = func(o Observer) { o.OnFailed(req, final) }
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.notify(event)
	s.dispatch()
}

// store writes a successful result to the cache unless the attempt was
// abandoned or its group was invalidated while it ran.
func (s *Scheduler) store(st startedAttempt, value any) {
	j := st.job
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()

	s.mu.Lock()
	current := j.attempt == st.attempt && j.state == stateProcessing && st.attempt > j.forgotten
	s.mu.Unlock()
	if !current {
		return
	}
	if err := s.backend.Set(context.WithoutCancel(j.ctx), j.opts.CacheKey, value, j.opts.CacheTTL); err != nil {
		s.logger.Warn("result cache write failed", zap.String("cache_key", j.opts.CacheKey), zap.Error(err))
	}
}

// Forget detaches running requests cached under group or any of its member
// keys from in-flight dedup, so later submits start a fresh request. The
// running attempt still resolves its callers but is not cached. Queued and
// retrying requests have not fetched yet and stay joinable. Call it before
// deleting the group from the cache.
func (s *Scheduler) Forget(group string) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := group + ":"
	n := 0
	for key, j := range s.inflight {
		if j.state != stateProcessing || (key != group && !strings.HasPrefix(key, prefix)) {
			continue
		}
		delete(s.inflight, key)
		j.forgotten = j.attempt
		n++
	}
	if n > 0 {
		s.logger.Debug("detached in-flight requests", zap.String("group", group), zap.Int("requests", n))
	}
}

func (s *Scheduler) retryableLocked(j *job, err error) bool {
	return !s.stopped &&
		j.ctx.Err() == nil &&
		!IsPermanent(err) &&
		j.req.RetryCount < j.req.MaxRetries
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrStopped):
		return "stopped"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsPermanent(err):
		return "permanent"
	default:
		return "exhausted"
	}
}

// requeue puts a request back at the tail of its tier after its backoff.
func (s *Scheduler) requeue(j *job) {
	s.mu.Lock()
	if j.state != stateRetrying || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.retrying, j.req.ID)
	j.retry = nil
	j.state = statePending
	s.queue.push(j)
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.dispatch()
}

// finishLocked moves j to its terminal set and resolves its future.
func (s *Scheduler) finishLocked(j *job, value any, err error, reason string) {
	j.state = stateDone
	if key := j.opts.CacheKey; key != "" && s.inflight[key] == j {
		delete(s.inflight, key)
	}
	for _, stop := range j.unwatch {
		stop()
	}
	j.unwatch = nil

	if err == nil {
		s.completed.add(j.req.ID)
		s.completedTotal++
		s.metrics.completed.Inc()
	} else {
		s.failed.add(j.req.ID)
		s.failedTotal++
		s.metrics.failed.WithLabelValues(reason).Inc()
	}
	j.future.resolve(value, err)
	j.cancel(context.Canceled)
	s.broadcastLocked()
}

func (s *Scheduler) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) effectiveConcurrencyLocked() int {
	if s.paused {
		return 0
	}
	return s.maxConcurrent
}

func (s *Scheduler) updateGaugesLocked() {
	for _, p := range Priorities {
		s.metrics.pending.WithLabelValues(p.String()).Set(float64(s.queue.tierLen(p)))
	}
	s.metrics.processing.Set(float64(len(s.processing)))
	s.metrics.maxConcurrent.Set(float64(s.effectiveConcurrencyLocked()))
	s.metrics.requestsPerSec.Set(float64(s.window.limit))
}

// AddObserver registers o after construction, for observers that need the
// scheduler themselves.
func (s *Scheduler) AddObserver(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

func (s *Scheduler) notify(fn func(Observer)) {
	if fn == nil {
		return
	}
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

// SetMaxConcurrent changes the concurrency cap, clamped to the configured
// bounds, and returns the applied value. While paused the value is kept for
// Resume.
func (s *Scheduler) SetMaxConcurrent(n int) int {
	s.mu.Lock()
	n = clamp(n, s.cfg.MinConcurrent, s.cfg.ConcurrencyLimit)
	s.maxConcurrent = n
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.logger.Info("max concurrent updated", zap.Int("max_concurrent", n))
	s.dispatch()
	return n
}

// SetRequestsPerSecond changes the per-window dequeue limit, clamped to
// [1, RateLimitCeiling], and returns the applied value.
func (s *Scheduler) SetRequestsPerSecond(n int) int {
	s.mu.Lock()
	n = clamp(n, 1, s.cfg.RateLimitCeiling)
	s.window.setLimit(n)
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.logger.Info("requests per second updated", zap.Int("requests_per_second", n))
	s.dispatch()
	return n
}

// Limits returns the configured concurrency cap and rate limit, ignoring
// pause.
func (s *Scheduler) Limits() (maxConcurrent, requestsPerSecond int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent, s.window.limit
}

// Pause stops dequeuing; queued requests are retained.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.updateGaugesLocked()
	s.mu.Unlock()
	s.logger.Info("scheduler paused")
}

// Resume restores the concurrency cap in effect before Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.updateGaugesLocked()
	s.mu.Unlock()
	s.logger.Info("scheduler resumed")
	s.dispatch()
}

// Stats returns a snapshot of queue sizes, totals and limits.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPriority := make(map[string]int, len(Priorities))
	for _, p := range Priorities {
		byPriority[p.String()] = s.queue.tierLen(p)
	}
	return Stats{
		Pending:            s.queue.len(),
		Processing:         len(s.processing),
		Retrying:           len(s.retrying),
		Completed:          s.completedTotal,
		Failed:             s.failedTotal,
		MaxConcurrent:      s.effectiveConcurrencyLocked(),
		RequestsPerSecond:  s.window.limit,
		CurrentWindowCount: s.window.count,
		Paused:             s.paused,
		QueueCapacity:      s.cfg.QueueCapacity,
		PendingByPriority:  byPriority,
	}
}
