// Package signals turns environment changes (the app regaining focus, the
// network coming back) into bulk sync events.
package signals

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aidin1998/finsync/internal/syncbus"
	"github.com/Aidin1998/finsync/pkg/metrics"
)

const (
	TriggerFocus     = "focus"
	TriggerReconnect = "reconnect"
)

// Publisher is the part of the sync bus the adapters need.
type Publisher interface {
	Publish(evt syncbus.SyncEvent)
}

// bulkEvent is what every environment trigger publishes.
func bulkEvent(trigger string) syncbus.SyncEvent {
	return syncbus.SyncEvent{
		Type:     syncbus.EntityBulkOperation,
		Action:   syncbus.ActionUpdate,
		Metadata: map[string]string{"trigger": trigger},
	}
}

// debouncer lets one trigger through per interval.
type debouncer struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	last     time.Time
}

func (d *debouncer) allow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	return true
}

func triggerCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	return metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace, Subsystem: "signals",
		Name: "triggers_total", Help: "Environment triggers by outcome",
	}, []string{"trigger", "result"}))
}
