package signals

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/pkg/metrics"
)

// Probe checks whether the backend is reachable.
type Probe func(ctx context.Context) error

// HTTPProbe treats any response below 500 from url as reachable.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

type MonitorConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MinInterval time.Duration
}

// ConnectivityMonitor publishes a bulk sync when the backend becomes
// reachable again. State comes from periodic probes or SetOnline.
type ConnectivityMonitor struct {
	pub      Publisher
	probe    Probe
	cfg      MonitorConfig
	clock    clockwork.Clock
	logger   *zap.Logger
	debounce *debouncer
	triggers *prometheus.CounterVec
	online   prometheus.Gauge

	mu       sync.Mutex
	isOnline bool
	changed  time.Time
}

// NewConnectivityMonitor starts in the online state. probe may be nil when
// state is only pushed through SetOnline.
func NewConnectivityMonitor(pub Publisher, probe Probe, cfg MonitorConfig, clock clockwork.Clock, logger *zap.Logger, reg prometheus.Registerer) *ConnectivityMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	m := &ConnectivityMonitor{
		pub:      pub,
		probe:    probe,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.Named("connectivity"),
		debounce: &debouncer{clock: clock, interval: cfg.MinInterval},
		triggers: triggerCounter(reg),
		online: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "signals",
			Name: "backend_online", Help: "1 while the backend is reachable",
		})),
		isOnline: true,
		changed:  clock.Now(),
	}
	m.online.Set(1)
	return m
}

// Run probes every Interval until ctx ends.
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	if m.probe == nil {
		<-ctx.Done()
		return
	}
	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Check(ctx)
		}
	}
}

// Check runs the probe once and applies the result.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	err := m.probe(ctx)
	if err != nil {
		m.logger.Debug("backend probe failed", zap.Error(err))
	}
	return m.SetOnline(err == nil)
}

// SetOnline records connectivity and reports whether a sync event was
// published.
func (m *ConnectivityMonitor) SetOnline(online bool) bool {
	m.mu.Lock()
	reconnected := online && !m.isOnline
	if online != m.isOnline {
		m.isOnline = online
		m.changed = m.clock.Now()
	}
	m.mu.Unlock()

	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
	if !reconnected {
		return false
	}
	if !m.debounce.allow() {
		m.triggers.WithLabelValues(TriggerReconnect, "debounced").Inc()
		return false
	}
	m.triggers.WithLabelValues(TriggerReconnect, "published").Inc()
	m.logger.Info("backend reachable again, requesting bulk sync")
	m.pub.Publish(bulkEvent(TriggerReconnect))
	return true
}

func (m *ConnectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOnline
}
