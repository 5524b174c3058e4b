package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the project module.
type Metrics struct {
	ProjectsCreated     prometheus.Counter
	ProjectsDeactivated prometheus.Counter
	ThresholdUpdates    prometheus.Counter
}

// New creates a Metrics instance with all project module metrics registered.
func New() *Metrics {
	return &Metrics{
		ProjectsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_projects_created_total",
			Help: "Total number of projects created",
		}),
		ProjectsDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_projects_deactivated_total",
			Help: "Total number of projects deactivated",
		}),
		ThresholdUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitegate_project_threshold_updates_total",
			Help: "Total number of per-project threshold updates",
		}),
	}
}
