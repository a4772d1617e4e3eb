package syncbus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/pkg/metrics"
)

var ErrClosed = errors.New("sync bus closed")

// BatchHandler consumes the grouped events of one drain pass.
type BatchHandler interface {
	// HandleBatches processes one pass; it must not return before the pass
	// is finished. Failures are the handler's to log.
	HandleBatches(ctx context.Context, batches []EventBatch)
	// FullSync invalidates everything regardless of queued events.
	FullSync(ctx context.Context) error
}

// Listener observes every published event.
type Listener func(SyncEvent)

// QueueStats is a snapshot of the bus.
type QueueStats struct {
	QueueLength   int    `json:"queue_length"`
	IsDraining    bool   `json:"is_draining"`
	ListenerCount int    `json:"listener_count"`
	Passes        uint64 `json:"passes"`
}

type BusOption func(*Bus)

func WithBusClock(c clockwork.Clock) BusOption {
	return func(b *Bus) { b.clock = c }
}

func WithBusLogger(l *zap.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

func WithBusRegisterer(reg prometheus.Registerer) BusOption {
	return func(b *Bus) { b.reg = reg }
}

type busMetrics struct {
	published    *prometheus.CounterVec
	passes       prometheus.Counter
	passEvents   prometheus.Histogram
	passDuration prometheus.Histogram
	queueLength  prometheus.Gauge
	fullSyncs    *prometheus.CounterVec
}

func newBusMetrics(reg prometheus.Registerer) *busMetrics {
	const sub = "sync"
	return &busMetrics{
		published: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "events_published_total", Help: "Sync events published",
		}, []string{"type", "action"})),
		passes: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "passes_total", Help: "Drain passes run",
		})),
		passEvents: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "pass_events", Help: "Events coalesced into one pass",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		})),
		passDuration: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "pass_duration_seconds", Help: "Duration of drain passes",
			Buckets: prometheus.DefBuckets,
		})),
		queueLength: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "queue_length", Help: "Events waiting for the next pass",
		})),
		fullSyncs: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "full_syncs_total", Help: "Forced full syncs",
		}, []string{"result"})),
	}
}

// Bus queues sync events and drains them in passes. At most one pass runs
// at a time; events published during a pass are picked up by one follow-up
// pass.
type Bus struct {
	handler BatchHandler
	clock   clockwork.Clock
	logger  *zap.Logger
	reg     prometheus.Registerer
	metrics *busMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queue     []SyncEvent
	draining  bool
	closed    bool
	passes    uint64
	listeners map[uint64]Listener
	nextID    uint64
	idle      chan struct{}
	wg        sync.WaitGroup
}

// NewBus creates a bus feeding handler.
func NewBus(handler BatchHandler, opts ...BusOption) *Bus {
	b := &Bus{
		handler:   handler,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
		listeners: make(map[uint64]Listener),
		idle:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("syncbus")
	b.metrics = newBusMetrics(b.reg)
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

// Publish queues evt and starts a pass if none is running. Listeners are
// called before Publish returns.
func (b *Bus) Publish(evt SyncEvent) {
	evt = evt.clone()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.EnqueuedAt.IsZero() {
		evt.EnqueuedAt = b.clock.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("dropping event published after close",
			zap.String("type", string(evt.Type)), zap.String("action", string(evt.Action)))
		return
	}
	b.queue = append(b.queue, evt)
	b.metrics.queueLength.Set(float64(len(b.queue)))
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	start := !b.draining
	if start {
		b.draining = true
		b.wg.Add(1)
	}
	b.mu.Unlock()

	b.metrics.published.WithLabelValues(string(evt.Type), string(evt.Action)).Inc()
	for _, l := range listeners {
		b.deliver(l, evt)
	}
	if start {
		go b.drain()
	}
}

func (b *Bus) deliver(l Listener, evt SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("sync listener panicked",
				zap.String("event_id", evt.ID), zap.Any("panic", r))
		}
	}()
	l(evt.clone())
}

// Subscribe registers l and returns its unsubscribe func.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) drain() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		events := b.queue
		b.queue = nil
		b.metrics.queueLength.Set(0)
		if len(events) == 0 {
			b.draining = false
			close(b.idle)
			b.idle = make(chan struct{})
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		b.runPass(events)
	}
}

func (b *Bus) runPass(events []SyncEvent) {
	start := b.clock.Now()
	batches := group(events)
	b.handler.HandleBatches(b.ctx, batches)

	b.mu.Lock()
	b.passes++
	pass := b.passes
	b.mu.Unlock()

	elapsed := b.clock.Since(start)
	b.metrics.passes.Inc()
	b.metrics.passEvents.Observe(float64(len(events)))
	b.metrics.passDuration.Observe(elapsed.Seconds())
	b.logger.Debug("sync pass finished",
		zap.Uint64("pass", pass),
		zap.Int("events", len(events)),
		zap.Int("batches", len(batches)),
		zap.Duration("elapsed", elapsed))
}

// ForceFullSync invalidates every known group and refetches the critical
// ones, bypassing the queue.
func (b *Bus) ForceFullSync(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b.logger.Info("forcing full sync")
	if err := b.handler.FullSync(ctx); err != nil {
		b.metrics.fullSyncs.WithLabelValues("error").Inc()
		return err
	}
	b.metrics.fullSyncs.WithLabelValues("ok").Inc()
	return nil
}

func (b *Bus) QueueStats() QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return QueueStats{
		QueueLength:   len(b.queue),
		IsDraining:    b.draining,
		ListenerCount: len(b.listeners),
		Passes:        b.passes,
	}
}

// WaitIdle blocks until no pass is running and the queue is empty.
func (b *Bus) WaitIdle(ctx context.Context) error {
	for {
		b.mu.Lock()
		if !b.draining {
			b.mu.Unlock()
			return nil
		}
		idle := b.idle
		b.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting events and waits for the running pass to finish.
// If ctx ends first the pass context is cancelled.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	err := b.WaitIdle(ctx)
	b.cancel()
	b.wg.Wait()
	return err
}
