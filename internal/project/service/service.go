// Package service orchestrates the project lifecycle: create, threshold
// updates, deactivate/reactivate. Projects are never deleted.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	projectmetrics "sitegate/internal/project/metrics"
	"sitegate/internal/project/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/platform/tx"
	"sitegate/pkg/requestcontext"
)

// ProjectStore is the persistence contract for projects.
type ProjectStore interface {
	CreateIfNameAvailable(ctx context.Context, project *models.Project) error
	FindByID(ctx context.Context, projectID id.ProjectID) (*models.Project, error)
	ListActive(ctx context.Context) ([]*models.Project, error)
	Execute(ctx context.Context, projectID id.ProjectID, validate func(*models.Project) error, mutate func(*models.Project)) (*models.Project, error)
}

// ProjectService manages project admin operations.
type ProjectService struct {
	projects ProjectStore
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *projectmetrics.Metrics
	tx       tx.Runner
}

// Option configures the service.
type Option func(*ProjectService)

// WithMetrics attaches module metrics.
func WithMetrics(m *projectmetrics.Metrics) Option {
	return func(s *ProjectService) { s.metrics = m }
}

// WithTxRunner overrides the transaction runner (Postgres wiring).
func WithTxRunner(runner tx.Runner) Option {
	return func(s *ProjectService) { s.tx = runner }
}

// NewProjectService builds the service. Recorder is mandatory: every project
// mutation must land in the audit trail.
func NewProjectService(projects ProjectStore, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *ProjectService {
	s := &ProjectService{
		projects: projects,
		recorder: recorder,
		logger:   logger,
		tx:       tx.PassThrough{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProject registers a new site.
func (s *ProjectService) CreateProject(ctx context.Context, name string, location geo.Point, radiusM float64, timezone string) (*models.Project, error) {
	name = strings.TrimSpace(name)

	var project *models.Project
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := models.NewProject(id.NewProjectID(), name, location, radiusM, timezone, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		if err := s.projects.CreateIfNameAvailable(txCtx, p); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeConflict, "project name must be unique")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create project")
		}
		if err := s.recorder.Record(txCtx, audit.TableProjects, p.ID.String(), audit.ActionCreate, nil, p); err != nil {
			return err
		}
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ProjectsCreated.Inc()
	}
	s.logger.InfoContext(ctx, "project created", "project_id", project.ID.String(), "name", project.Name)
	return project, nil
}

// GetProject returns one project.
func (s *ProjectService) GetProject(ctx context.Context, projectID id.ProjectID) (*models.Project, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, wrapProjectErr(err)
	}
	return project, nil
}

// Geofence resolves a project's site location and fence radius in metres.
func (s *ProjectService) Geofence(ctx context.Context, projectID id.ProjectID) (geo.Point, float64, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return geo.Point{}, 0, err
	}
	return project.Location, project.GeofenceRadiusM, nil
}

// ListActiveProjects returns projects the scheduled workers should visit.
func (s *ProjectService) ListActiveProjects(ctx context.Context) ([]*models.Project, error) {
	return s.projects.ListActive(ctx)
}

// UpdateThresholds replaces the project's environmental limits.
func (s *ProjectService) UpdateThresholds(ctx context.Context, projectID id.ProjectID, thresholds models.Thresholds) (*models.Project, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	if err := models.ValidateThresholds(thresholds); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var before models.Thresholds
	project, err := s.projects.Execute(ctx, projectID,
		func(p *models.Project) error {
			before = p.Thresholds
			return nil
		},
		func(p *models.Project) {
			p.Thresholds = thresholds
			p.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, wrapProjectErr(err)
	}

	if err := s.recorder.Record(ctx, audit.TableProjects, projectID.String(), audit.ActionUpdate,
		map[string]any{"thresholds": before},
		map[string]any{"thresholds": thresholds},
	); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ThresholdUpdates.Inc()
	}
	return project, nil
}

// UpdateFlags replaces the project's workflow flags. Turning GateRequired off
// lets a project file daily logs without a verified gate; existing gate
// records are untouched.
func (s *ProjectService) UpdateFlags(ctx context.Context, projectID id.ProjectID, flags models.Flags) (*models.Project, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}

	now := requestcontext.Now(ctx)
	var before models.Flags
	project, err := s.projects.Execute(ctx, projectID,
		func(p *models.Project) error {
			before = p.Flags
			return nil
		},
		func(p *models.Project) {
			p.Flags = flags
			p.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, wrapProjectErr(err)
	}

	if err := s.recorder.Record(ctx, audit.TableProjects, projectID.String(), audit.ActionUpdate,
		map[string]any{"flags": before},
		map[string]any{"flags": flags},
	); err != nil {
		return nil, err
	}
	return project, nil
}

// DeactivateProject transitions a project to inactive status.
func (s *ProjectService) DeactivateProject(ctx context.Context, projectID id.ProjectID) (*models.Project, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}

	now := requestcontext.Now(ctx)
	project, err := s.projects.Execute(ctx, projectID,
		func(p *models.Project) error {
			if err := p.CanDeactivate(); err != nil {
				return dErrors.New(dErrors.CodeConflict, "project is already inactive")
			}
			return nil
		},
		func(p *models.Project) {
			p.ApplyDeactivation(now)
		},
	)
	if err != nil {
		return nil, wrapProjectErr(err)
	}

	if err := s.recorder.Record(ctx, audit.TableProjects, projectID.String(), audit.ActionDeactivate, nil, project); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ProjectsDeactivated.Inc()
	}
	return project, nil
}

// ReactivateProject transitions an inactive project back to active.
func (s *ProjectService) ReactivateProject(ctx context.Context, projectID id.ProjectID) (*models.Project, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}

	now := requestcontext.Now(ctx)
	project, err := s.projects.Execute(ctx, projectID,
		func(p *models.Project) error {
			if err := p.CanReactivate(); err != nil {
				return dErrors.New(dErrors.CodeConflict, "project is already active")
			}
			return nil
		},
		func(p *models.Project) {
			p.ApplyReactivation(now)
		},
	)
	if err != nil {
		return nil, wrapProjectErr(err)
	}

	if err := s.recorder.Record(ctx, audit.TableProjects, projectID.String(), audit.ActionReactivate, nil, project); err != nil {
		return nil, err
	}
	return project, nil
}

func wrapProjectErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "project not found")
	case dErrors.HasCode(err, dErrors.CodeConflict),
		dErrors.HasCode(err, dErrors.CodeBadRequest):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "project store failure")
	}
}
