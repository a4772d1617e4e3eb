package signals

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// FocusTracker publishes a bulk sync when the app regains focus.
type FocusTracker struct {
	pub      Publisher
	logger   *zap.Logger
	debounce *debouncer
	triggers *prometheus.CounterVec

	mu      sync.Mutex
	focused bool
}

// NewFocusTracker starts in the focused state. Focus regained within
// minInterval of the last published trigger is ignored.
func NewFocusTracker(pub Publisher, minInterval time.Duration, clock clockwork.Clock, logger *zap.Logger, reg prometheus.Registerer) *FocusTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FocusTracker{
		pub:      pub,
		logger:   logger.Named("focus"),
		debounce: &debouncer{clock: clock, interval: minInterval},
		triggers: triggerCounter(reg),
		focused:  true,
	}
}

// SetFocused records the focus state and reports whether a sync event was
// published.
func (f *FocusTracker) SetFocused(focused bool) bool {
	f.mu.Lock()
	regained := focused && !f.focused
	f.focused = focused
	f.mu.Unlock()

	if !regained {
		return false
	}
	if !f.debounce.allow() {
		f.triggers.WithLabelValues(TriggerFocus, "debounced").Inc()
		f.logger.Debug("focus trigger debounced")
		return false
	}
	f.triggers.WithLabelValues(TriggerFocus, "published").Inc()
	f.logger.Info("focus regained, requesting bulk sync")
	f.pub.Publish(bulkEvent(TriggerFocus))
	return true
}

func (f *FocusTracker) Focused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focused
}
