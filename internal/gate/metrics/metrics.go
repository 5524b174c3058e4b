package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the gate module.
type Metrics struct {
	GatesBegun           prometheus.Counter
	GatesVerified        prometheus.Counter
	GatesExpired         prometheus.Counter
	VerificationFailures *prometheus.CounterVec
	LogsCreated          prometheus.Counter
	LogsBlocked          prometheus.Counter
}

// New creates a Metrics instance with all gate module metrics registered.
func New() *Metrics {
	return &Metrics{
		GatesBegun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_gates_begun_total",
			Help: "Total number of gate verifications begun",
		}),
		GatesVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_gates_verified_total",
			Help: "Total number of gate verifications completed",
		}),
		GatesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_gates_expired_total",
			Help: "Total number of gate records expired by the sweeper",
		}),
		VerificationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_gate_verification_failures_total",
			Help: "Verification attempts rejected, by unmet precondition",
		}, []string{"precondition"}),
		LogsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_gated_logs_created_total",
			Help: "Total number of gated logs created",
		}),
		LogsBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_gated_logs_blocked_total",
			Help: "Gated log attempts blocked by an unverified gate",
		}),
	}
}
