// Package service implements the compliance tracker: recording independent
// safety verifications per project day and judging whether a day has enough
// of them.
package service

import (
	"context"
	"errors"
	"log/slog"

	alertmodels "sitegate/internal/alert/models"
	compliancemetrics "sitegate/internal/compliance/metrics"
	"sitegate/internal/compliance/models"
	projectmodels "sitegate/internal/project/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/requestcontext"
)

// DefaultMinVerifications is the number of independent verifications a
// project day needs before it counts as compliant.
const DefaultMinVerifications = 2

// EventStore is the persistence contract for compliance events.
type EventStore interface {
	CreateIfAbsent(ctx context.Context, event *models.Event) error
	ListByDay(ctx context.Context, projectID id.ProjectID, day id.Day) ([]*models.Event, error)
	ListByWorkUnitDay(ctx context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day) ([]*models.Event, error)
}

// ProjectDirectory is the slice of the project module the tracker needs.
type ProjectDirectory interface {
	GetProject(ctx context.Context, projectID id.ProjectID) (*projectmodels.Project, error)
	ListActiveProjects(ctx context.Context) ([]*projectmodels.Project, error)
}

// Alerter raises dashboard alerts for missing compliance.
type Alerter interface {
	Raise(ctx context.Context, projectID id.ProjectID, kind alertmodels.Kind, message, dedupeKey string, details any) (*alertmodels.Alert, error)
}

// Standing is the compliance verdict for one day: a whole project's, or a
// single work unit's when WorkUnitID is set.
type Standing struct {
	ProjectID  id.ProjectID
	WorkUnitID id.WorkUnitID
	Day        id.Day
	Count      int
	Required   int
	Compliant  bool
}

// ComplianceService records verifications and evaluates standing.
type ComplianceService struct {
	events   EventStore
	projects ProjectDirectory
	alerts   Alerter
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *compliancemetrics.Metrics
	minCount int
}

// Option configures the service.
type Option func(*ComplianceService)

// WithMetrics attaches module metrics.
func WithMetrics(m *compliancemetrics.Metrics) Option {
	return func(s *ComplianceService) { s.metrics = m }
}

// WithMinVerifications overrides the per-day verification requirement.
func WithMinVerifications(n int) Option {
	return func(s *ComplianceService) {
		if n > 0 {
			s.minCount = n
		}
	}
}

// NewComplianceService builds the service.
func NewComplianceService(events EventStore, projects ProjectDirectory, alerts Alerter, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *ComplianceService {
	s := &ComplianceService{
		events:   events,
		projects: projects,
		alerts:   alerts,
		recorder: recorder,
		logger:   logger,
		minCount: DefaultMinVerifications,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordVerification stores one verification event. eventID may be supplied by
// offline sync for idempotent replay; the zero ID lets the server assign one.
func (s *ComplianceService) RecordVerification(ctx context.Context, eventID id.ComplianceEventID, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day, method, verifier, notes string) (*models.Event, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if eventID.IsNil() {
		eventID = id.NewComplianceEventID()
	}

	event, err := models.NewEvent(eventID, projectID, workUnitID, day, method, verifier, notes, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.events.CreateIfAbsent(ctx, event); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return event, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store compliance event")
	}

	if err := s.recorder.Record(ctx, audit.TableComplianceEvents, event.ID.String(), audit.ActionVerificationRecorded, nil, event); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.VerificationsRecorded.Inc()
	}
	s.logger.InfoContext(ctx, "compliance verification recorded",
		"event_id", event.ID.String(),
		"project_id", projectID.String(),
		"work_unit_id", string(event.WorkUnitID),
		"day", day.String(),
		"method", event.Method)
	return event, nil
}

// Standing evaluates a project day as a roll-up across its work units. Only
// events with both a method and a verifier count, which NewEvent already
// guarantees for records created here; the filter also protects against rows
// synced from older devices.
func (s *ComplianceService) Standing(ctx context.Context, projectID id.ProjectID, day id.Day) (*Standing, error) {
	events, err := s.events.ListByDay(ctx, projectID, day)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compliance store failure")
	}
	return s.standing(projectID, "", day, events), nil
}

// WorkUnitStanding evaluates one work unit's day.
func (s *ComplianceService) WorkUnitStanding(ctx context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day) (*Standing, error) {
	events, err := s.events.ListByWorkUnitDay(ctx, projectID, workUnitID, day)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compliance store failure")
	}
	return s.standing(projectID, workUnitID, day, events), nil
}

func (s *ComplianceService) standing(projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day, events []*models.Event) *Standing {
	count := 0
	for _, event := range events {
		if event.Method != "" && event.Verifier != "" {
			count++
		}
	}
	return &Standing{
		ProjectID:  projectID,
		WorkUnitID: workUnitID,
		Day:        day,
		Count:      count,
		Required:   s.minCount,
		Compliant:  count >= s.minCount,
	}
}

// ListByDay returns a project day's verification events.
func (s *ComplianceService) ListByDay(ctx context.Context, projectID id.ProjectID, day id.Day) ([]*models.Event, error) {
	events, err := s.events.ListByDay(ctx, projectID, day)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compliance store failure")
	}
	return events, nil
}

// CheckProjectAtCutoff raises a compliance-missing alert for a project that
// has not met its verification requirement by the cutoff.
func (s *ComplianceService) CheckProjectAtCutoff(ctx context.Context, project *projectmodels.Project, day id.Day) error {
	if !project.Flags.ComplianceRequired {
		return nil
	}
	standing, err := s.Standing(ctx, project.ID, day)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.CutoffChecks.Inc()
	}
	if standing.Compliant {
		return nil
	}

	if s.metrics != nil {
		s.metrics.MissingAtCutoff.Inc()
	}
	_, err = s.alerts.Raise(ctx, project.ID, alertmodels.KindComplianceMissing,
		"daily compliance verifications missing at cutoff",
		"compliance:"+project.ID.String()+":"+day.String(),
		map[string]any{"day": day.String(), "count": standing.Count, "required": standing.Required})
	return err
}
