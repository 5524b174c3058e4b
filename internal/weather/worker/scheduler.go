// Package worker runs the capture scheduler: each active project gets a
// weather capture at the configured local times of day, evaluated in the
// project's own timezone.
package worker

import (
	"context"
	"log/slog"
	"time"

	"sitegate/internal/platform/lease"
	"sitegate/internal/weather/service"
	id "sitegate/pkg/domain"
)

// Scheduler triggers captures at fixed local times per project.
type Scheduler struct {
	weather    *service.WeatherService
	projects   service.ProjectDirectory
	guard      lease.Guard
	logger     *slog.Logger
	fetchTimes []string // "HH:MM" in each project's local time
}

func NewScheduler(weather *service.WeatherService, projects service.ProjectDirectory, guard lease.Guard, logger *slog.Logger, fetchTimes []string) *Scheduler {
	if len(fetchTimes) == 0 {
		fetchTimes = []string{"06:00", "12:00"}
	}
	return &Scheduler{
		weather:    weather,
		projects:   projects,
		guard:      guard,
		logger:     logger,
		fetchTimes: fetchTimes,
	}
}

// Run checks every 30 seconds whether any project has hit one of its capture
// times.
func (w *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
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

// Tick runs one scheduling pass at the given wall time. The lease guard makes
// each (project, day, slot) fire once across restarts and replicas.
func (w *Scheduler) Tick(ctx context.Context, now time.Time) {
	projects, err := w.projects.ListActiveProjects(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "capture scheduler could not list projects", "error", err)
		return
	}

	for _, project := range projects {
		local := now.In(project.Loc())
		hhmm := local.Format("15:04")
		for _, slot := range w.fetchTimes {
			if hhmm != slot {
				continue
			}
			day := id.DayOf(local)
			claimed, err := w.guard.Claim(ctx, "weather-slot:"+project.ID.String()+":"+day.String()+":"+slot, 36*time.Hour)
			if err != nil {
				w.logger.ErrorContext(ctx, "capture slot lease claim failed",
					"project_id", project.ID.String(), "slot", slot, "error", err)
				continue
			}
			if !claimed {
				continue
			}

			if _, err := w.weather.CaptureForProject(ctx, project); err != nil {
				w.logger.ErrorContext(ctx, "scheduled capture failed",
					"project_id", project.ID.String(), "slot", slot, "error", err)
			}
		}
	}
}
