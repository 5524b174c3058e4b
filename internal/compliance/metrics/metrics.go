package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the compliance module.
type Metrics struct {
	VerificationsRecorded prometheus.Counter
	CutoffChecks          prometheus.Counter
	MissingAtCutoff       prometheus.Counter
}

// New creates a Metrics instance with all compliance module metrics registered.
func New() *Metrics {
	return &Metrics{
		VerificationsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_compliance_verifications_total",
			Help: "Total number of compliance verifications recorded",
		}),
		CutoffChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_compliance_cutoff_checks_total",
			Help: "Cutoff sweeps performed across projects",
		}),
		MissingAtCutoff: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_compliance_missing_at_cutoff_total",
			Help: "Project days found non-compliant at the cutoff",
		}),
	}
}
