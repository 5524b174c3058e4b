// Package service manages dashboard alerts: idempotent raising keyed on a
// dedupe string, listing open alerts and acknowledging them.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	alertmetrics "sitegate/internal/alert/metrics"
	"sitegate/internal/alert/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/requestcontext"
)

// AlertStore is the persistence contract for alerts.
type AlertStore interface {
	CreateIfAbsent(ctx context.Context, alert *models.Alert) (*models.Alert, error)
	FindByID(ctx context.Context, alertID id.AlertID) (*models.Alert, error)
	Execute(ctx context.Context, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error)
	ListUnacknowledged(ctx context.Context, projectID id.ProjectID) ([]*models.Alert, error)
}

// AlertService raises and resolves alerts.
type AlertService struct {
	alerts   AlertStore
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *alertmetrics.Metrics
}

// Option configures the service.
type Option func(*AlertService)

// WithMetrics attaches module metrics.
func WithMetrics(m *alertmetrics.Metrics) Option {
	return func(s *AlertService) { s.metrics = m }
}

// NewAlertService builds the service.
func NewAlertService(alerts AlertStore, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *AlertService {
	s := &AlertService{alerts: alerts, recorder: recorder, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise creates an alert unless one with the same dedupe key already exists.
// Either way the caller gets the live alert back, so detectors can Raise
// unconditionally on every scan.
func (s *AlertService) Raise(ctx context.Context, projectID id.ProjectID, kind models.Kind, message, dedupeKey string, details any) (*models.Alert, error) {
	var detailsJSON json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal alert details")
		}
		detailsJSON = b
	}

	alert, err := models.NewAlert(id.NewAlertID(), projectID, kind, message, dedupeKey, detailsJSON, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	created, err := s.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			if s.metrics != nil {
				s.metrics.AlertsDeduplicated.Inc()
			}
			return created, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to raise alert")
	}

	if err := s.recorder.Record(ctx, audit.TableAlerts, created.ID.String(), audit.ActionAlertRaised, nil, created); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AlertsRaised.WithLabelValues(string(kind)).Inc()
	}
	s.logger.WarnContext(ctx, "alert raised",
		"alert_id", created.ID.String(),
		"project_id", projectID.String(),
		"kind", string(kind),
		"message", message)
	return created, nil
}

// Acknowledge marks an alert handled. Acknowledging an already-acknowledged
// alert succeeds and returns it unchanged.
func (s *AlertService) Acknowledge(ctx context.Context, alertID id.AlertID) (*models.Alert, error) {
	if alertID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "alert id is required")
	}
	by := strings.TrimSpace(requestcontext.Actor(ctx))
	if by == "" {
		by = "system"
	}

	now := requestcontext.Now(ctx)
	alreadyAcked := false
	alert, err := s.alerts.Execute(ctx, alertID,
		func(a *models.Alert) error {
			alreadyAcked = a.Acknowledged
			return nil
		},
		func(a *models.Alert) {
			a.Acknowledge(by, now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "alert store failure")
	}
	if alreadyAcked {
		return alert, nil
	}

	if err := s.recorder.Record(ctx, audit.TableAlerts, alertID.String(), audit.ActionAlertAcknowledged, nil, alert); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AlertsAcknowledged.Inc()
	}
	return alert, nil
}

// GetAlert returns one alert.
func (s *AlertService) GetAlert(ctx context.Context, alertID id.AlertID) (*models.Alert, error) {
	if alertID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "alert id is required")
	}
	alert, err := s.alerts.FindByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "alert store failure")
	}
	return alert, nil
}

// ListOpen returns unacknowledged alerts, optionally scoped to one project.
func (s *AlertService) ListOpen(ctx context.Context, projectID id.ProjectID) ([]*models.Alert, error) {
	alerts, err := s.alerts.ListUnacknowledged(ctx, projectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "alert store failure")
	}
	return alerts, nil
}
