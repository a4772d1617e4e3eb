package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/api"
	"github.com/Aidin1998/finsync/internal/cache"
	"github.com/Aidin1998/finsync/internal/config"
	"github.com/Aidin1998/finsync/internal/degrade"
	"github.com/Aidin1998/finsync/internal/finance"
	"github.com/Aidin1998/finsync/internal/middleware/ratelimit"
	"github.com/Aidin1998/finsync/internal/redis"
	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/internal/signals"
	"github.com/Aidin1998/finsync/internal/syncbus"
	"github.com/Aidin1998/finsync/pkg/metrics"
)

// daemon owns every long-lived component of finsyncd.
type daemon struct {
	settings *config.Settings
	logger   *zap.Logger
	clock    clockwork.Clock
	registry *prometheus.Registry

	cache     *cache.Manager
	l1        *cache.MemoryBackend
	scheduler *scheduler.Scheduler
	degrade   *degrade.Controller
	query     *cache.QueryCache
	graph     *syncbus.Graph
	bus       *syncbus.Bus
	client    *finance.Client
	focus     *signals.FocusTracker
	monitor   *signals.ConnectivityMonitor
	hub       *signals.Hub
	api       *api.Server
	redis     goredis.UniversalClient

	unsubscribe func()
	closers     []func() error
}

func newDaemon(ctx context.Context, s *config.Settings, logger *zap.Logger, clock clockwork.Clock) (*daemon, error) {
	d := &daemon{
		settings: s,
		logger:   logger,
		clock:    clock,
		registry: metrics.NewRegistry(s.Version),
	}
	if err := d.build(ctx); err != nil {
		d.closeBackends()
		return nil, err
	}
	return d, nil
}

func (d *daemon) build(ctx context.Context) error {
	s := d.settings

	levels, err := d.cacheLevels(ctx)
	if err != nil {
		return err
	}
	d.cache, err = cache.NewManager(d.logger, d.registry, levels...)
	if err != nil {
		return err
	}

	d.scheduler, err = scheduler.New(schedulerConfig(s.Scheduler), d.cache,
		scheduler.WithClock(d.clock),
		scheduler.WithLogger(d.logger),
		scheduler.WithRegisterer(d.registry),
		scheduler.WithTracer(otel.Tracer("github.com/Aidin1998/finsync/internal/scheduler")))
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if s.Degrade.Enabled {
		d.degrade = degrade.New(degrade.Config{
			MaxFailures:         s.Degrade.MaxFailures,
			OpenTimeout:         s.Degrade.OpenTimeout,
			HalfOpenSuccesses:   s.Degrade.HalfOpenSuccesses,
			DegradedConcurrency: s.Degrade.DegradedConcurrency,
			DegradedRPS:         s.Degrade.DegradedRPS,
		}, d.scheduler,
			degrade.WithClock(d.clock),
			degrade.WithLogger(d.logger),
			degrade.WithRegisterer(d.registry))
		d.scheduler.AddObserver(d.degrade)
	}

	d.query = cache.NewQueryCache(d.cache,
		cache.WithRunner(d.scheduler.Runner(scheduler.PriorityHigh, s.Backend.MaxRetries, s.Backend.RequestTimeout)),
		cache.WithForgetter(d.scheduler),
		cache.WithDefaultTTL(s.Cache.DefaultTTL),
		cache.WithQueryClock(d.clock),
		cache.WithQueryLogger(d.logger),
		cache.WithQueryRegisterer(d.registry))

	d.graph, err = loadGraph(s.Sync.GraphFile)
	if err != nil {
		return err
	}
	coordinator, err := syncbus.NewCoordinator(d.query, d.graph,
		syncbus.WithEscalationThreshold(s.Sync.EscalationThreshold),
		syncbus.WithCoordinatorClock(d.clock),
		syncbus.WithCoordinatorLogger(d.logger),
		syncbus.WithMeterProvider(otel.GetMeterProvider()))
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	d.bus = syncbus.NewBus(coordinator,
		syncbus.WithBusClock(d.clock),
		syncbus.WithBusLogger(d.logger),
		syncbus.WithBusRegisterer(d.registry))

	d.client, err = finance.NewClient(finance.Config{
		BaseURL:        s.Backend.BaseURL,
		RequestTimeout: s.Backend.RequestTimeout,
		MaxRetries:     s.Backend.MaxRetries,
	}, d.scheduler, d.bus, finance.WithClientLogger(d.logger))
	if err != nil {
		return err
	}
	d.client.RegisterLoaders(d.query, s.Cache.DefaultTTL)

	d.focus = signals.NewFocusTracker(d.bus, s.Signals.MinInterval, d.clock, d.logger, d.registry)
	if s.Signals.ProbeURL != "" {
		probe := signals.HTTPProbe(&http.Client{Timeout: s.Signals.ProbeTimeout}, s.Signals.ProbeURL)
		d.monitor = signals.NewConnectivityMonitor(d.bus, probe, signals.MonitorConfig{
			Interval:    s.Signals.ProbeInterval,
			Timeout:     s.Signals.ProbeTimeout,
			MinInterval: s.Signals.MinInterval,
		}, d.clock, d.logger, d.registry)
	}
	d.hub = signals.NewHub(d.focus, d.monitor, d.logger, allowOrigins(s.API.AllowOrigins))
	d.unsubscribe = d.bus.Subscribe(d.hub.Broadcast)

	deps := api.Dependencies{
		Scheduler: d.scheduler,
		Sync:      d.bus,
		Cache:     d.query,
		Levels:    d.cache,
		Focus:     d.focus,
		Signals:   d.hub,
		Metrics:   metrics.Handler(d.registry),
	}
	if d.degrade != nil {
		deps.Degrade = d.degrade
	}
	if s.API.RateLimit.Enabled && d.redis != nil {
		limiter, err := ratelimit.NewRedisWindow(d.redis, s.API.RateLimit.Requests, s.API.RateLimit.Window,
			ratelimit.WithClock(d.clock))
		if err != nil {
			return err
		}
		deps.Throttle = ratelimit.Middleware(limiter, ratelimit.ClientKey, d.logger.Named("ratelimit"))
	}
	d.api, err = api.NewServer(d.logger, api.Config{
		JWTSecret:    s.API.JWTSecret,
		AllowOrigins: s.API.AllowOrigins,
	}, deps)
	return err
}

// cacheLevels opens the configured tiers, fastest first.
func (d *daemon) cacheLevels(ctx context.Context) ([]cache.Level, error) {
	s := d.settings.Cache
	d.l1 = cache.NewMemoryBackend(d.clock)
	levels := []cache.Level{{Level: cache.CacheLevelL1, Backend: d.l1}}

	if s.Redis.Enabled {
		client, err := redis.NewClient(ctx, redisConfig(s.Redis), d.logger)
		if err != nil {
			return nil, fmt.Errorf("redis cache %s: %w", s.Redis.Address, err)
		}
		d.redis = client
		d.closers = append(d.closers, client.Close)
		backend := cache.NewRedisBackend(client,
			cache.WithKeyPrefix(s.Redis.KeyPrefix),
			cache.WithRedisClock(d.clock))
		levels = append(levels, cache.Level{Level: cache.CacheLevelL2, Backend: backend})
	}

	if s.Badger.Enabled {
		backend, err := cache.OpenBadgerBackend(s.Badger.Path, s.Badger.InMemory, d.clock)
		if err != nil {
			return nil, fmt.Errorf("badger cache %s: %w", s.Badger.Path, err)
		}
		d.closers = append(d.closers, backend.Close)
		levels = append(levels, cache.Level{Level: cache.CacheLevelL3, Backend: backend})
	}
	return levels, nil
}

func redisConfig(s config.RedisConfig) redis.Config {
	cfg := redis.DefaultConfig()
	cfg.Addrs = strings.Split(s.Address, ",")
	cfg.MasterName = s.MasterName
	cfg.Password = s.Password
	cfg.DB = s.DB
	cfg.PoolSize = s.PoolSize
	cfg.MaxRetries = s.MaxRetries
	cfg.DialTimeout = s.DialTimeout
	return cfg
}

func schedulerConfig(s config.SchedulerConfig) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.MaxConcurrent = s.MaxConcurrent
	cfg.RequestsPerSecond = s.RequestsPerSecond
	cfg.QueueCapacity = s.QueueCapacity
	cfg.OverflowPolicy = scheduler.OverflowPolicy(s.OverflowPolicy)
	cfg.RateWindow = s.RateWindow
	cfg.RecheckInterval = s.RecheckInterval
	cfg.BaseBackoff = s.BaseBackoff
	cfg.MaxBackoff = s.MaxBackoff
	cfg.DefaultCacheTTL = s.DefaultCacheTTL
	cfg.HistoryLimit = s.HistoryLimit
	return cfg
}

func allowOrigins(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// applySettings is the hot reload hook: only the scheduler limits are
// tunable at runtime.
func (d *daemon) applySettings(s *config.Settings) {
	mc := d.scheduler.SetMaxConcurrent(s.Scheduler.MaxConcurrent)
	rps := d.scheduler.SetRequestsPerSecond(s.Scheduler.RequestsPerSecond)
	d.logger.Info("applied reloaded scheduler limits",
		zap.Int("max_concurrent", mc),
		zap.Int("requests_per_second", rps))
}

// run starts the components and blocks until ctx ends, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	// The scheduler outlives ctx so shutdown can drain it.
	if err := d.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if d.monitor != nil {
		go d.monitor.Run(ctx)
	}
	go d.purgeL1(ctx, d.settings.Cache.PurgeInterval)
	go func() {
		if err := d.query.Warm(ctx, 2, d.graph.Critical()...); err != nil {
			d.logger.Warn("initial cache warm-up incomplete", zap.Error(err))
		}
	}()

	err := d.api.Run(ctx, d.settings.API.Address, d.settings.API.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.settings.API.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, d.shutdown(shutdownCtx))
}

// purgeL1 drops expired in-memory entries every interval until ctx ends.
// Reads already skip them; this only bounds memory.
func (d *daemon) purgeL1(ctx context.Context, interval time.Duration) {
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := d.l1.Purge(); n > 0 {
				d.logger.Debug("purged expired cache entries", zap.Int("entries", n))
			}
		}
	}
}

func (d *daemon) shutdown(ctx context.Context) error {
	var errs error
	d.hub.Close()
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if err := d.bus.Close(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("sync bus: %w", err))
	}
	if err := d.scheduler.Shutdown(ctx); err != nil {
		d.logger.Warn("scheduler did not drain in time", zap.Error(err))
	}
	if d.degrade != nil {
		d.degrade.Stop()
	}
	d.closeBackends()
	return errs
}

func (d *daemon) closeBackends() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("failed to close cache backend", zap.Error(err))
		}
	}
	d.closers = nil
}
