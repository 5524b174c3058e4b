package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitegate/internal/project/models"
	projectstore "sitegate/internal/project/store"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/requestcontext"
)

type ProjectServiceSuite struct {
	suite.Suite
	ctx      context.Context
	auditLog *auditmemory.InMemoryStore
	service  *ProjectService
}

func TestProjectServiceSuite(t *testing.T) {
	suite.Run(t, new(ProjectServiceSuite))
}

func (s *ProjectServiceSuite) SetupTest() {
	now := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ctx = requestcontext.WithActor(s.ctx, "ops-admin")
	s.auditLog = auditmemory.NewInMemoryStore()
	s.service = NewProjectService(projectstore.NewInMemory(), audit.NewRecorder(s.auditLog), slog.New(slog.DiscardHandler))
}

func (s *ProjectServiceSuite) create(name string) *models.Project {
	project, err := s.service.CreateProject(s.ctx, name,
		geo.Point{Latitude: 37.79, Longitude: -122.39}, 150, "America/Los_Angeles")
	s.Require().NoError(err)
	return project
}

func (s *ProjectServiceSuite) TestCreateProject() {
	s.Run("creates with defaults and audits", func() {
		project := s.create("Harbor Tower")
		s.Equal(models.StatusActive, project.Status)
		s.Equal(models.DefaultThresholds(), project.Thresholds)
		s.True(project.Flags.GateRequired)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableProjects, project.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionCreate, entries[0].Action)
		s.Equal("ops-admin", entries[0].Actor)
	})

	s.Run("duplicate name conflicts", func() {
		s.create("Riverside Depot")
		_, err := s.service.CreateProject(s.ctx, "Riverside Depot",
			geo.Point{Latitude: 51.5, Longitude: -0.09}, 200, "UTC")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects missing location and bad timezone", func() {
		_, err := s.service.CreateProject(s.ctx, "No Site", geo.Point{}, 150, "UTC")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.CreateProject(s.ctx, "Bad Zone",
			geo.Point{Latitude: 1, Longitude: 1}, 150, "Mars/Olympus")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ProjectServiceSuite) TestUpdateThresholds() {
	project := s.create("Harbor Tower")

	s.Run("updates and audits before/after", func() {
		updated, err := s.service.UpdateThresholds(s.ctx, project.ID, models.Thresholds{
			WindSpeedMph: 30, PrecipitationIn: 0.5, TempMinF: 20, TempMaxF: 100,
		})
		s.Require().NoError(err)
		s.Equal(30.0, updated.Thresholds.WindSpeedMph)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableProjects, project.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(audit.ActionUpdate, entries[1].Action)
		s.NotNil(entries[1].OldSnapshot)
	})

	s.Run("rejects inverted temperature bounds", func() {
		_, err := s.service.UpdateThresholds(s.ctx, project.ID, models.Thresholds{
			WindSpeedMph: 30, TempMinF: 90, TempMaxF: 40,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ProjectServiceSuite) TestLifecycle() {
	project := s.create("Harbor Tower")

	deactivated, err := s.service.DeactivateProject(s.ctx, project.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInactive, deactivated.Status)

	_, err = s.service.DeactivateProject(s.ctx, project.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	active, err := s.service.ListActiveProjects(s.ctx)
	s.Require().NoError(err)
	s.Empty(active)

	reactivated, err := s.service.ReactivateProject(s.ctx, project.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, reactivated.Status)
}

func (s *ProjectServiceSuite) TestUpdateFlags() {
	project := s.create("Harbor Tower")

	updated, err := s.service.UpdateFlags(s.ctx, project.ID, models.Flags{GateRequired: false, ComplianceRequired: true})
	s.Require().NoError(err)
	s.False(updated.Flags.GateRequired)
	s.True(updated.Flags.ComplianceRequired)
}
