package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the offline sync engine.
type Metrics struct {
	ItemsEnqueued   *prometheus.CounterVec
	ItemsReplayed   prometheus.Counter
	ItemsApplied    *prometheus.CounterVec
	ItemsConflicted prometheus.Counter
	ItemsFailed     prometheus.Counter
	ApplyRetries    prometheus.Counter
}

// New creates a Metrics instance with all sync engine metrics registered.
func New() *Metrics {
	return &Metrics{
		ItemsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_sync_items_enqueued_total",
			Help: "Sync items accepted into the queue, by record type",
		}, []string{"record_type"}),
		ItemsReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_sync_items_replayed_total",
			Help: "Enqueue requests that matched an already-queued item ID",
		}),
		ItemsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_sync_items_applied_total",
			Help: "Sync items applied to server state, by record type",
		}, []string{"record_type"}),
		ItemsConflicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_sync_items_conflicted_total",
			Help: "Sync items discarded after losing conflict resolution",
		}),
		ItemsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_sync_items_failed_total",
			Help: "Sync items that exhausted their retry budget",
		}),
		ApplyRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_sync_apply_retries_total",
			Help: "Apply attempts rescheduled after a transient failure",
		}),
	}
}
