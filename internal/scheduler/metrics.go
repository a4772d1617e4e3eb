package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aidin1998/finsync/pkg/metrics"
)

type schedulerMetrics struct {
	queued          *prometheus.CounterVec
	started         *prometheus.CounterVec
	completed       prometheus.Counter
	failed          *prometheus.CounterVec
	retries         prometheus.Counter
	cacheHits       prometheus.Counter
	joined          prometheus.Counter
	rejected        prometheus.Counter
	pending         *prometheus.GaugeVec
	processing      prometheus.Gauge
	maxConcurrent   prometheus.Gauge
	requestsPerSec  prometheus.Gauge
	attemptDuration prometheus.Histogram
	queueWait       prometheus.Histogram
}

func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	const sub = "scheduler"
	return &schedulerMetrics{
		queued: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "queued_total", Help: "Requests admitted to the pending queue",
		}, []string{"priority"})),
		started: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "started_total", Help: "Attempts dequeued and started",
		}, []string{"priority"})),
		completed: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "completed_total", Help: "Requests that succeeded",
		})),
		failed: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "failed_total", Help: "Requests that failed terminally",
		}, []string{"reason"})),
		retries: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "retries_total", Help: "Failed attempts re-enqueued after backoff",
		})),
		cacheHits: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "cache_hits_total", Help: "Submissions answered from the result cache",
		})),
		joined: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "joined_total", Help: "Submissions joined to an in-flight request with the same cache key",
		})),
		rejected: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "rejected_total", Help: "Submissions rejected because the queue was full",
		})),
		pending: metrics.Register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "pending", Help: "Pending requests per priority",
		}, []string{"priority"})),
		processing: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "processing", Help: "Attempts in flight",
		})),
		maxConcurrent: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "max_concurrent", Help: "Effective concurrency limit, 0 while paused",
		})),
		requestsPerSec: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "requests_per_second", Help: "Dequeue rate limit",
		})),
		attemptDuration: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "attempt_duration_seconds", Help: "Duration of individual attempts",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		})),
		queueWait: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: sub,
			Name: "queue_wait_seconds", Help: "Time from admission to first start",
			Buckets: prometheus.DefBuckets,
		})),
	}
}
