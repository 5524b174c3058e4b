package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the alert module.
type Metrics struct {
	AlertsRaised       *prometheus.CounterVec
	AlertsDeduplicated prometheus.Counter
	AlertsAcknowledged prometheus.Counter
}

// New creates a Metrics instance with all alert module metrics registered.
func New() *Metrics {
	return &Metrics{
		AlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_alerts_raised_total",
			Help: "Total number of alerts raised, by kind",
		}, []string{"kind"}),
		AlertsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_alerts_deduplicated_total",
			Help: "Alert raise attempts suppressed by an existing alert",
		}),
		AlertsAcknowledged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged",
		}),
	}
}
