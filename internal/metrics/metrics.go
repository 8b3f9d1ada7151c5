// Package metrics holds the process-wide Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Enqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offlinesync_operations_enqueued_total",
		Help: "Total operations accepted into the queue.",
	})
	Delivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offlinesync_operations_delivered_total",
		Help: "Total operations confirmed with a 2xx response and removed.",
	})
	AttemptsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinesync_attempts_failed_total",
		Help: "Total failed delivery attempts by cause (transport, status).",
	}, []string{"cause"})
	DeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offlinesync_operations_dead_lettered_total",
		Help: "Total operations moved to the dead state.",
	})
	DrainPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offlinesync_drain_passes_total",
		Help: "Total drain passes run.",
	})
	SyncRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinesync_sync_rounds_total",
		Help: "Total change sync rounds by outcome.",
	}, []string{"outcome"})
	PersistErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinesync_persist_errors_total",
		Help: "Total absorbed persistence failures by component.",
	}, []string{"component"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offlinesync_queue_depth",
		Help: "Operations currently held by the queue, dead ones included.",
	})
	PendingChanges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offlinesync_pending_changes",
		Help: "Changes not yet confirmed by a sync round.",
	})
	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offlinesync_effective_online",
		Help: "1 when effectively online, 0 otherwise.",
	})
)

// Collectors returns every collector in registration order.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Enqueued, Delivered, AttemptsFailed, DeadLettered, DrainPasses,
		SyncRounds, PersistErrors,
		QueueDepth, PendingChanges, Online,
	}
}

// Register adds every collector to reg. A nil reg means the default
// registry. Panics on duplicate registration.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(Collectors()...)
}
