package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the evidence module.
type Metrics struct {
	Captured            *prometheus.CounterVec
	OutsideGeofence     prometheus.Counter
	IntegrityChecks     prometheus.Counter
	IntegrityViolations prometheus.Counter
}

// New creates a Metrics instance with all evidence module metrics registered.
func New() *Metrics {
	return &Metrics{
		Captured: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_evidence_captured_total",
			Help: "Total number of evidence records captured, by kind",
		}, []string{"kind"}),
		OutsideGeofence: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_evidence_outside_geofence_total",
			Help: "Evidence captured outside the project geofence",
		}),
		IntegrityChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_evidence_integrity_checks_total",
			Help: "Total number of integrity verifications performed",
		}),
		IntegrityViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_evidence_integrity_violations_total",
			Help: "Integrity verifications whose hash did not match",
		}),
	}
}
