package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aidin1998/finsync/pkg/metrics"
)

type managerMetrics struct {
	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	errors        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	refetches     *prometheus.CounterVec
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	return &managerMetrics{
		hits: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by level",
		}, []string{"level"})),
		misses: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Lookups that missed every level",
		})),
		errors: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Backend errors by level and operation",
		}, []string{"level", "op"})),
		invalidations: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "group_invalidations_total",
			Help:      "Resource group invalidations",
		}, []string{"group"})),
		refetches: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "group_refetches_total",
			Help:      "Resource group refetches by result",
		}, []string{"group", "result"})),
	}
}
