package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	alertservice "sitegate/internal/alert/service"
	alertstore "sitegate/internal/alert/store"
	projectmodels "sitegate/internal/project/models"
	projectservice "sitegate/internal/project/service"
	projectstore "sitegate/internal/project/store"
	"sitegate/internal/weather/models"
	weatherstore "sitegate/internal/weather/store"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/platform/circuit"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/requestcontext"
)

// stubProvider returns a fixed observation or error.
type stubProvider struct {
	reading models.Reading
	raw     json.RawMessage
	err     error
	calls   int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Fetch(context.Context, geo.Point) (models.Observation, error) {
	p.calls++
	if p.err != nil {
		return models.Observation{}, p.err
	}
	return models.Observation{Reading: p.reading, Raw: p.raw}, nil
}

type WeatherServiceSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	provider *stubProvider
	breaker  *circuit.Breaker
	alerts   *alertservice.AlertService
	service  *WeatherService
	project  *projectmodels.Project
}

func TestWeatherServiceSuite(t *testing.T) {
	suite.Run(t, new(WeatherServiceSuite))
}

func (s *WeatherServiceSuite) SetupTest() {
	s.now = time.Date(2025, 6, 12, 6, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(auditmemory.NewInMemoryStore())

	projects := projectservice.NewProjectService(projectstore.NewInMemory(), recorder, logger)
	project, err := projects.CreateProject(s.ctx, "Flatiron Tower",
		geo.Point{Latitude: 40.7411, Longitude: -73.9897}, 500, "UTC")
	s.Require().NoError(err)
	s.project = project

	s.alerts = alertservice.NewAlertService(alertstore.NewInMemory(), recorder, logger)
	s.provider = &stubProvider{reading: models.Reading{WindSpeedMph: 8, TempF: 72}}
	s.breaker = circuit.New("weather", circuit.WithFailureThreshold(2))
	s.service = NewWeatherService(weatherstore.NewInMemory(), projects, s.alerts, s.provider,
		recorder, logger, WithBreaker(s.breaker))
}

func (s *WeatherServiceSuite) TestCaptureForProject() {
	s.Run("clean reading stores an unflagged capture", func() {
		capture, err := s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		s.Equal(models.StatusOK, capture.Status)
		s.False(capture.Flagged)
		s.Equal("stub", capture.Source)
	})

	s.Run("provider payload is kept byte-for-byte", func() {
		s.provider.raw = json.RawMessage(`{"wind":{"speed":8,"gust":12.3},"station":"KJFK","unmapped":true}`)
		laterCtx := requestcontext.WithTime(s.ctx, s.now.Add(time.Minute))
		capture, err := s.service.CaptureForProject(laterCtx, s.project)
		s.Require().NoError(err)
		s.Equal(string(s.provider.raw), string(capture.Raw))

		stored, err := s.service.ListRecent(s.ctx, s.project.ID, 1)
		s.Require().NoError(err)
		s.Require().Len(stored, 1)
		s.Equal(string(s.provider.raw), string(stored[0].Raw))
		s.provider.raw = nil
	})

	s.Run("breach flags the capture and raises one alert per reason", func() {
		s.provider.reading = models.Reading{WindSpeedMph: 27.5, PrecipitationIn: 0, TempF: 72}
		capture, err := s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		s.True(capture.Flagged)
		s.Equal([]string{models.ReasonWindExceeded}, capture.Reasons)

		open, err := s.alerts.ListOpen(s.ctx, s.project.ID)
		s.Require().NoError(err)
		s.Require().Len(open, 1)

		// Same breach later the same day deduplicates onto the existing alert.
		_, err = s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		open, err = s.alerts.ListOpen(s.ctx, s.project.ID)
		s.Require().NoError(err)
		s.Len(open, 1)
	})

	s.Run("provider failure degrades to a source-unavailable capture", func() {
		s.provider.err = dErrors.New(dErrors.CodeUnavailable, "timeout")
		capture, err := s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		s.Equal(models.StatusSourceUnavailable, capture.Status)
		s.False(capture.Flagged)
	})

	s.Run("open breaker short-circuits further fetches", func() {
		s.provider.err = dErrors.New(dErrors.CodeUnavailable, "timeout")
		// One more failure trips the two-failure breaker.
		_, err := s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		s.True(s.breaker.IsOpen())

		calls := s.provider.calls
		capture, err := s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		s.Equal(models.StatusSourceUnavailable, capture.Status)
		s.Equal(calls, s.provider.calls) // no fetch attempted

		// After the probe interval a fetch is allowed through and, on
		// success, closes the breaker.
		s.provider.err = nil
		laterCtx := requestcontext.WithTime(s.ctx, s.now.Add(2*time.Minute))
		capture, err = s.service.CaptureForProject(laterCtx, s.project)
		s.Require().NoError(err)
		s.Equal(models.StatusOK, capture.Status)
		s.False(s.breaker.IsOpen())
	})
}

func (s *WeatherServiceSuite) TestAcknowledgeCapture() {
	s.provider.reading = models.Reading{WindSpeedMph: 30, TempF: 72}
	capture, err := s.service.CaptureForProject(s.ctx, s.project)
	s.Require().NoError(err)
	s.Require().True(capture.Flagged)

	s.Run("acknowledges once and keeps the first actor", func() {
		ackCtx := requestcontext.WithActor(s.ctx, "safety-lead")
		acked, err := s.service.AcknowledgeCapture(ackCtx, capture.ID)
		s.Require().NoError(err)
		s.True(acked.Acknowledged)
		s.Equal("safety-lead", acked.AcknowledgedBy)

		again, err := s.service.AcknowledgeCapture(requestcontext.WithActor(s.ctx, "other"), capture.ID)
		s.Require().NoError(err)
		s.Equal("safety-lead", again.AcknowledgedBy)
	})

	s.Run("unflagged capture cannot be acknowledged", func() {
		s.provider.reading = models.Reading{WindSpeedMph: 5, TempF: 72}
		clean, err := s.service.CaptureForProject(s.ctx, s.project)
		s.Require().NoError(err)
		_, err = s.service.AcknowledgeCapture(s.ctx, clean.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *WeatherServiceSuite) TestRecordCaptureIdempotent() {
	captureID := id.NewCaptureID()
	first, err := s.service.RecordCapture(s.ctx, captureID, s.project.ID, "device",
		models.Observation{Reading: models.Reading{WindSpeedMph: 12, TempF: 80}}, s.now)
	s.Require().NoError(err)

	second, err := s.service.RecordCapture(s.ctx, captureID, s.project.ID, "device",
		models.Observation{Reading: models.Reading{WindSpeedMph: 99, TempF: 80}}, s.now)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(first.Reading, second.Reading)
}
