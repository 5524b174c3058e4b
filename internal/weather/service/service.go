// Package service implements the environmental monitor: scheduled weather
// captures per project, strict threshold evaluation and alerting on breaches.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	alertmodels "sitegate/internal/alert/models"
	projectmodels "sitegate/internal/project/models"
	weathermetrics "sitegate/internal/weather/metrics"
	"sitegate/internal/weather/models"
	"sitegate/internal/weather/provider"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/circuit"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/requestcontext"
)

// CaptureStore is the persistence contract for environmental captures.
type CaptureStore interface {
	CreateIfAbsent(ctx context.Context, capture *models.Capture) error
	FindByID(ctx context.Context, captureID id.CaptureID) (*models.Capture, error)
	Execute(ctx context.Context, captureID id.CaptureID, validate func(*models.Capture) error, mutate func(*models.Capture)) (*models.Capture, error)
	ListRecent(ctx context.Context, projectID id.ProjectID, limit int) ([]*models.Capture, error)
}

// ProjectDirectory is the slice of the project module the monitor needs.
type ProjectDirectory interface {
	GetProject(ctx context.Context, projectID id.ProjectID) (*projectmodels.Project, error)
	ListActiveProjects(ctx context.Context) ([]*projectmodels.Project, error)
}

// Alerter raises dashboard alerts for threshold breaches.
type Alerter interface {
	Raise(ctx context.Context, projectID id.ProjectID, kind alertmodels.Kind, message, dedupeKey string, details any) (*alertmodels.Alert, error)
}

// probeInterval bounds how often an open breaker lets a fetch through.
const probeInterval = time.Minute

// WeatherService records and evaluates environmental captures.
type WeatherService struct {
	captures CaptureStore
	projects ProjectDirectory
	alerts   Alerter
	source   provider.Provider
	breaker  *circuit.Breaker
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *weathermetrics.Metrics

	probeMu   sync.Mutex
	lastProbe time.Time
}

// Option configures the service.
type Option func(*WeatherService)

// WithMetrics attaches module metrics.
func WithMetrics(m *weathermetrics.Metrics) Option {
	return func(s *WeatherService) { s.metrics = m }
}

// WithBreaker overrides the provider circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *WeatherService) { s.breaker = b }
}

// NewWeatherService builds the service.
func NewWeatherService(captures CaptureStore, projects ProjectDirectory, alerts Alerter, source provider.Provider, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *WeatherService {
	s := &WeatherService{
		captures: captures,
		projects: projects,
		alerts:   alerts,
		source:   source,
		breaker:  circuit.New("weather"),
		recorder: recorder,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CaptureForProject fetches the current observation and records it. When the
// provider fails or the breaker is open, a source-unavailable capture is
// recorded instead; the scheduled slot always yields a row.
func (s *WeatherService) CaptureForProject(ctx context.Context, project *projectmodels.Project) (*models.Capture, error) {
	now := requestcontext.Now(ctx)

	if s.breaker.IsOpen() && !s.allowProbe(now) {
		if s.metrics != nil {
			s.metrics.BreakerShortstops.Inc()
		}
		return s.recordUnavailable(ctx, project.ID, s.source.Name(), now)
	}

	obs, err := s.source.Fetch(ctx, project.Location)
	if err != nil {
		if s.metrics != nil {
			s.metrics.FetchFailures.Inc()
		}
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "weather breaker opened", "source", s.source.Name())
		}
		s.logger.WarnContext(ctx, "weather fetch failed",
			"project_id", project.ID.String(), "source", s.source.Name(), "error", err)
		return s.recordUnavailable(ctx, project.ID, s.source.Name(), now)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "weather breaker closed", "source", s.source.Name())
	}

	return s.RecordCapture(ctx, id.CaptureID{}, project.ID, s.source.Name(), obs, now)
}

func (s *WeatherService) allowProbe(now time.Time) bool {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if now.Sub(s.lastProbe) < probeInterval {
		return false
	}
	s.lastProbe = now
	return true
}

// RecordCapture evaluates an observation against the project's thresholds and
// stores it, raw provider payload included. A capture ID may be supplied by
// offline sync for idempotent replay; the zero ID lets the server assign one.
func (s *WeatherService) RecordCapture(ctx context.Context, captureID id.CaptureID, projectID id.ProjectID, source string, obs models.Observation, capturedAt time.Time) (*models.Capture, error) {
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if capturedAt.IsZero() {
		capturedAt = now
	}
	if captureID.IsNil() {
		captureID = id.NewCaptureID()
	}

	capture := models.NewCapture(captureID, projectID, source, obs, project.Thresholds, capturedAt, now)
	if err := s.captures.CreateIfAbsent(ctx, capture); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return s.captures.FindByID(ctx, captureID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store capture")
	}
	if err := s.recorder.Record(ctx, audit.TableEnvironmentalCaptures, capture.ID.String(), audit.ActionCaptureRecorded, nil, capture); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CapturesRecorded.WithLabelValues(string(models.StatusOK)).Inc()
		for _, reason := range capture.Reasons {
			s.metrics.CapturesFlagged.WithLabelValues(reason).Inc()
		}
	}

	if capture.Flagged {
		s.logger.WarnContext(ctx, "environmental capture flagged",
			"capture_id", capture.ID.String(),
			"project_id", projectID.String(),
			"reasons", strings.Join(capture.Reasons, ","))
		day := id.DayOf(capturedAt.In(project.Loc()))
		for _, reason := range capture.Reasons {
			dedupeKey := fmt.Sprintf("weather:%s:%s:%s", projectID, day, reason)
			if _, err := s.alerts.Raise(ctx, projectID, alertmodels.KindWeatherThreshold,
				"environmental threshold breached: "+reason, dedupeKey,
				map[string]any{"capture_id": capture.ID.String(), "reason": reason, "reading": obs.Reading},
			); err != nil {
				return nil, err
			}
		}
	}
	return capture, nil
}

func (s *WeatherService) recordUnavailable(ctx context.Context, projectID id.ProjectID, source string, now time.Time) (*models.Capture, error) {
	capture := models.NewUnavailableCapture(id.NewCaptureID(), projectID, source, now, now)
	if err := s.captures.CreateIfAbsent(ctx, capture); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store capture")
	}
	if err := s.recorder.Record(ctx, audit.TableEnvironmentalCaptures, capture.ID.String(), audit.ActionCaptureRecorded, nil, capture); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CapturesRecorded.WithLabelValues(string(models.StatusSourceUnavailable)).Inc()
	}
	return capture, nil
}

// AcknowledgeCapture marks a flagged capture reviewed. Idempotent; the first
// acknowledger is kept.
func (s *WeatherService) AcknowledgeCapture(ctx context.Context, captureID id.CaptureID) (*models.Capture, error) {
	if captureID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "capture id is required")
	}
	by := strings.TrimSpace(requestcontext.Actor(ctx))
	if by == "" {
		by = "system"
	}

	now := requestcontext.Now(ctx)
	alreadyAcked := false
	capture, err := s.captures.Execute(ctx, captureID,
		func(c *models.Capture) error {
			if !c.Flagged {
				return dErrors.New(dErrors.CodeConflict, "capture is not flagged")
			}
			alreadyAcked = c.Acknowledged
			return nil
		},
		func(c *models.Capture) {
			c.Acknowledge(by, now)
		},
	)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "capture not found")
		case dErrors.HasCode(err, dErrors.CodeConflict):
			return nil, err
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "capture store failure")
		}
	}
	if alreadyAcked {
		return capture, nil
	}

	if err := s.recorder.Record(ctx, audit.TableEnvironmentalCaptures, captureID.String(), audit.ActionCaptureAcknowledged, nil, capture); err != nil {
		return nil, err
	}
	return capture, nil
}

// ListRecent returns the project's latest captures, newest first.
func (s *WeatherService) ListRecent(ctx context.Context, projectID id.ProjectID, limit int) ([]*models.Capture, error) {
	captures, err := s.captures.ListRecent(ctx, projectID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "capture store failure")
	}
	return captures, nil
}
