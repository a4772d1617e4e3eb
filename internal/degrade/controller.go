// Package degrade lowers the scheduler limits while the backend keeps
// failing and restores them once it recovers.
package degrade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/pkg/metrics"
)

// State of the breaker.
type State int32

const (
	// StateClosed - normal limits
	StateClosed State = iota
	// StateOpen - degraded limits, waiting for OpenTimeout
	StateOpen
	// StateHalfOpen - degraded limits, counting successes to close
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Tuner is the part of the scheduler the controller adjusts.
type Tuner interface {
	Limits() (maxConcurrent, requestsPerSecond int)
	SetMaxConcurrent(n int) int
	SetRequestsPerSecond(n int) int
}

type Config struct {
	MaxFailures         int
	OpenTimeout         time.Duration
	HalfOpenSuccesses   int
	DegradedConcurrency int
	DegradedRPS         int
}

// Status is a snapshot of the controller.
type Status struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Since               time.Time `json:"since"`
	SavedConcurrency    int       `json:"saved_concurrency,omitempty"`
	SavedRPS            int       `json:"saved_rps,omitempty"`
}

type Option func(*Controller)

func WithClock(c clockwork.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(ctl *Controller) { ctl.reg = reg }
}

// Controller is a circuit breaker fed by scheduler outcomes. It implements
// scheduler.Observer.
type Controller struct {
	scheduler.NopObserver

	cfg    Config
	tuner  Tuner
	clock  clockwork.Clock
	logger *zap.Logger
	reg    prometheus.Registerer

	stateGauge  prometheus.Gauge
	transitions *prometheus.CounterVec

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	since     time.Time
	savedMC   int
	savedRPS  int
	timer     clockwork.Timer
}

// New creates a closed controller for tuner.
func New(cfg Config, tuner Tuner, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		tuner:  tuner,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxFailures <= 0 {
		c.cfg.MaxFailures = 5
	}
	if c.cfg.HalfOpenSuccesses <= 0 {
		c.cfg.HalfOpenSuccesses = 1
	}
	if c.cfg.OpenTimeout <= 0 {
		c.cfg.OpenTimeout = 30 * time.Second
	}
	c.logger = c.logger.Named("degrade")
	c.since = c.clock.Now()
	c.stateGauge = metrics.Register(c.reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace, Subsystem: "degrade",
		Name: "state", Help: "Breaker state: 0 closed, 1 open, 2 half-open",
	}))
	c.transitions = metrics.Register(c.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace, Subsystem: "degrade",
		Name: "transitions_total", Help: "Breaker state transitions",
	}, []string{"to"}))
	return c
}

// countable filters out outcomes that say nothing about backend health.
func countable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, scheduler.ErrStopped),
		scheduler.IsPermanent(err):
		return false
	}
	return true
}

func (c *Controller) OnSucceeded(scheduler.QueuedRequest, time.Duration) {
	c.mu.Lock()
	var apply func()
	switch c.state {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.successes++
		if c.successes >= c.cfg.HalfOpenSuccesses {
			apply = c.closeLocked()
		}
	}
	c.mu.Unlock()
	if apply != nil {
		apply()
	}
}

func (c *Controller) OnFailed(_ scheduler.QueuedRequest, err error) {
	c.record(err)
}

// OnRetry counts failed attempts too, so a burst of retried requests trips
// the breaker before their budgets run out.
func (c *Controller) OnRetry(_ scheduler.QueuedRequest, _ time.Duration, err error) {
	c.record(err)
}

func (c *Controller) record(err error) {
	if !countable(err) {
		return
	}
	c.mu.Lock()
	var apply func()
	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= c.cfg.MaxFailures {
			apply = c.openLocked(true)
		}
	case StateHalfOpen:
		c.failures++
		apply = c.openLocked(false)
	}
	c.mu.Unlock()
	if apply != nil {
		apply()
	}
}

// openLocked switches to open and returns the limit change to apply after
// the lock is released. save is set when coming from closed.
func (c *Controller) openLocked(save bool) func() {
	if save {
		c.savedMC, c.savedRPS = c.tuner.Limits()
	}
	c.transitionLocked(StateOpen)
	c.timer = c.clock.AfterFunc(c.cfg.OpenTimeout, c.halfOpen)
	c.logger.Warn("backend degraded, lowering scheduler limits",
		zap.Int("consecutive_failures", c.failures),
		zap.Int("max_concurrent", c.cfg.DegradedConcurrency),
		zap.Int("requests_per_second", c.cfg.DegradedRPS))

	if !save {
		return nil
	}
	mc, rps := c.cfg.DegradedConcurrency, c.cfg.DegradedRPS
	return func() {
		if mc > 0 {
			c.tuner.SetMaxConcurrent(mc)
		}
		if rps > 0 {
			c.tuner.SetRequestsPerSecond(rps)
		}
	}
}

func (c *Controller) halfOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return
	}
	c.successes = 0
	c.transitionLocked(StateHalfOpen)
	c.logger.Info("probing backend with degraded limits")
}

func (c *Controller) closeLocked() func() {
	c.failures = 0
	c.successes = 0
	c.transitionLocked(StateClosed)
	mc, rps := c.savedMC, c.savedRPS
	c.logger.Info("backend recovered, restoring scheduler limits",
		zap.Int("max_concurrent", mc),
		zap.Int("requests_per_second", rps))
	return func() {
		c.tuner.SetMaxConcurrent(mc)
		c.tuner.SetRequestsPerSecond(rps)
	}
}

func (c *Controller) transitionLocked(to State) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = to
	c.since = c.clock.Now()
	c.stateGauge.Set(float64(to))
	c.transitions.WithLabelValues(to.String()).Inc()
}

// State returns the current breaker state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state.String(), ConsecutiveFailures: c.failures, Since: c.since}
	if c.state != StateClosed {
		st.SavedConcurrency, st.SavedRPS = c.savedMC, c.savedRPS
	}
	return st
}

// Stop cancels a pending half-open transition.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
