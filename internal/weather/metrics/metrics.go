package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the weather module.
type Metrics struct {
	CapturesRecorded  *prometheus.CounterVec
	CapturesFlagged   *prometheus.CounterVec
	FetchFailures     prometheus.Counter
	BreakerShortstops prometheus.Counter
}

// New creates a Metrics instance with all weather module metrics registered.
func New() *Metrics {
	return &Metrics{
		CapturesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_weather_captures_total",
			Help: "Environmental captures recorded, by status",
		}, []string{"status"}),
		CapturesFlagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegate_weather_captures_flagged_total",
			Help: "Captures that tripped a threshold, by reason",
		}, []string{"reason"}),
		FetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_weather_fetch_failures_total",
			Help: "Upstream weather fetches that failed",
		}),
		BreakerShortstops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_weather_breaker_shortstops_total",
			Help: "Fetches skipped because the weather circuit breaker was open",
		}),
	}
}
