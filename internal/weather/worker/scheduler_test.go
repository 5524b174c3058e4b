package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	alertservice "sitegate/internal/alert/service"
	alertstore "sitegate/internal/alert/store"
	"sitegate/internal/platform/lease"
	projectmodels "sitegate/internal/project/models"
	projectservice "sitegate/internal/project/service"
	projectstore "sitegate/internal/project/store"
	"sitegate/internal/weather/models"
	weatherservice "sitegate/internal/weather/service"
	weatherstore "sitegate/internal/weather/store"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/requestcontext"
)

type fixedProvider struct{}

func (fixedProvider) Name() string { return "fixed" }

func (fixedProvider) Fetch(context.Context, geo.Point) (models.Observation, error) {
	return models.Observation{Reading: models.Reading{WindSpeedMph: 6, TempF: 70}}, nil
}

type SchedulerSuite struct {
	suite.Suite
	ctx       context.Context
	guard     lease.Guard
	projects  *projectservice.ProjectService
	weather   *weatherservice.WeatherService
	scheduler *Scheduler
	project   *projectmodels.Project
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2025, 6, 12, 5, 0, 0, 0, time.UTC))

	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(auditmemory.NewInMemoryStore())

	s.projects = projectservice.NewProjectService(projectstore.NewInMemory(), recorder, logger)
	project, err := s.projects.CreateProject(s.ctx, "Flatiron Tower",
		geo.Point{Latitude: 40.7411, Longitude: -73.9897}, 500, "UTC")
	s.Require().NoError(err)
	s.project = project

	alerts := alertservice.NewAlertService(alertstore.NewInMemory(), recorder, logger)
	s.weather = weatherservice.NewWeatherService(weatherstore.NewInMemory(), s.projects, alerts,
		fixedProvider{}, recorder, logger)
	s.guard = lease.NewMemoryGuard()
	s.scheduler = NewScheduler(s.weather, s.projects, s.guard, logger, []string{"06:00", "12:00"})
}

func (s *SchedulerSuite) captureCount() int {
	captures, err := s.weather.ListRecent(s.ctx, s.project.ID, 0)
	s.Require().NoError(err)
	return len(captures)
}

func (s *SchedulerSuite) TestTick() {
	morning := time.Date(2025, 6, 12, 6, 0, 10, 0, time.UTC)

	s.Run("fires only at configured slots", func() {
		s.scheduler.Tick(s.ctx, time.Date(2025, 6, 12, 5, 30, 0, 0, time.UTC))
		s.Equal(0, s.captureCount())

		s.scheduler.Tick(s.ctx, morning)
		s.Equal(1, s.captureCount())
	})

	s.Run("a slot fires once even across restarts", func() {
		s.scheduler.Tick(s.ctx, morning)
		s.Equal(1, s.captureCount())

		// A fresh scheduler sharing the guard models a restarted or second
		// replica; the claim it sees is already taken.
		logger := slog.New(slog.DiscardHandler)
		replica := NewScheduler(s.weather, s.projects, s.guard, logger, []string{"06:00", "12:00"})
		replica.Tick(s.ctx, morning)
		s.Equal(1, s.captureCount())
	})

	s.Run("later slots and later days fire independently", func() {
		s.scheduler.Tick(s.ctx, time.Date(2025, 6, 12, 12, 0, 5, 0, time.UTC))
		s.Equal(2, s.captureCount())

		s.scheduler.Tick(s.ctx, time.Date(2025, 6, 13, 6, 0, 5, 0, time.UTC))
		s.Equal(3, s.captureCount())
	})
}
