// Package worker runs the compliance cutoff sweep: once a project's local
// clock passes the cutoff time, any day still short of its verification
// requirement gets a dashboard alert.
package worker

import (
	"context"
	"log/slog"
	"time"

	"sitegate/internal/compliance/service"
	"sitegate/internal/platform/lease"
	id "sitegate/pkg/domain"
)

// Cutoff sweeps projects after their local cutoff time.
type Cutoff struct {
	compliance *service.ComplianceService
	projects   service.ProjectDirectory
	guard      lease.Guard
	logger     *slog.Logger
	cutoff     string // "HH:MM" local time
}

func NewCutoff(compliance *service.ComplianceService, projects service.ProjectDirectory, guard lease.Guard, logger *slog.Logger, cutoff string) *Cutoff {
	if cutoff == "" {
		cutoff = "10:00"
	}
	return &Cutoff{
		compliance: compliance,
		projects:   projects,
		guard:      guard,
		logger:     logger,
		cutoff:     cutoff,
	}
}

// Run sweeps every minute until the context is cancelled.
func (w *Cutoff) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			w.Tick(ctx, now)
		}
	}
}

// Tick runs one sweep at the given wall time. The lease guard makes the check
// fire once per project day across restarts and replicas; the alert dedupe key
// backstops it.
func (w *Cutoff) Tick(ctx context.Context, now time.Time) {
	projects, err := w.projects.ListActiveProjects(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "cutoff sweep could not list projects", "error", err)
		return
	}

	for _, project := range projects {
		local := now.In(project.Loc())
		if local.Format("15:04") < w.cutoff {
			continue
		}
		day := id.DayOf(local)

		claimed, err := w.guard.Claim(ctx, "compliance-cutoff:"+project.ID.String()+":"+day.String(), 36*time.Hour)
		if err != nil {
			w.logger.ErrorContext(ctx, "cutoff lease claim failed",
				"project_id", project.ID.String(), "error", err)
			continue
		}
		if !claimed {
			continue
		}

		if err := w.compliance.CheckProjectAtCutoff(ctx, project, day); err != nil {
			w.logger.ErrorContext(ctx, "cutoff check failed",
				"project_id", project.ID.String(), "day", day.String(), "error", err)
		}
	}
}
