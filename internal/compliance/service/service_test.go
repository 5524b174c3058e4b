package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	alertservice "sitegate/internal/alert/service"
	alertstore "sitegate/internal/alert/store"
	compliancestore "sitegate/internal/compliance/store"
	projectmodels "sitegate/internal/project/models"
	projectservice "sitegate/internal/project/service"
	projectstore "sitegate/internal/project/store"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/requestcontext"
)

type ComplianceServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	alerts  *alertservice.AlertService
	service *ComplianceService
	project *projectmodels.Project
}

func TestComplianceServiceSuite(t *testing.T) {
	suite.Run(t, new(ComplianceServiceSuite))
}

func (s *ComplianceServiceSuite) SetupTest() {
	s.now = time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(auditmemory.NewInMemoryStore())

	projects := projectservice.NewProjectService(projectstore.NewInMemory(), recorder, logger)
	project, err := projects.CreateProject(s.ctx, "Flatiron Tower",
		geo.Point{Latitude: 40.7411, Longitude: -73.9897}, 500, "UTC")
	s.Require().NoError(err)
	s.project = project

	s.alerts = alertservice.NewAlertService(alertstore.NewInMemory(), recorder, logger)
	s.service = NewComplianceService(compliancestore.NewInMemory(), projects, s.alerts, recorder, logger)
}

func (s *ComplianceServiceSuite) record(workUnitID id.WorkUnitID, method, verifier string) {
	_, err := s.service.RecordVerification(s.ctx, id.ComplianceEventID{},
		s.project.ID, workUnitID, id.DayOf(s.now), method, verifier, "")
	s.Require().NoError(err)
}

func (s *ComplianceServiceSuite) TestRecordVerification() {
	s.Run("rejects empty method or verifier", func() {
		_, err := s.service.RecordVerification(s.ctx, id.ComplianceEventID{},
			s.project.ID, "crane-01", id.DayOf(s.now), "  ", "Dana Reyes", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.RecordVerification(s.ctx, id.ComplianceEventID{},
			s.project.ID, "crane-01", id.DayOf(s.now), "walkthrough", "", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects a missing work unit", func() {
		_, err := s.service.RecordVerification(s.ctx, id.ComplianceEventID{},
			s.project.ID, "", id.DayOf(s.now), "walkthrough", "Dana Reyes", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("replaying the same event ID is harmless", func() {
		eventID := id.NewComplianceEventID()
		day := id.DayOf(s.now)
		_, err := s.service.RecordVerification(s.ctx, eventID, s.project.ID, "crane-01", day, "walkthrough", "Dana Reyes", "")
		s.Require().NoError(err)
		_, err = s.service.RecordVerification(s.ctx, eventID, s.project.ID, "crane-01", day, "walkthrough", "Dana Reyes", "")
		s.Require().NoError(err)

		events, err := s.service.ListByDay(s.ctx, s.project.ID, day)
		s.Require().NoError(err)
		s.Len(events, 1)
	})
}

func (s *ComplianceServiceSuite) TestStanding() {
	day := id.DayOf(s.now)

	standing, err := s.service.Standing(s.ctx, s.project.ID, day)
	s.Require().NoError(err)
	s.False(standing.Compliant)
	s.Equal(0, standing.Count)
	s.Equal(DefaultMinVerifications, standing.Required)

	s.record("crane-01", "walkthrough", "Dana Reyes")
	standing, err = s.service.Standing(s.ctx, s.project.ID, day)
	s.Require().NoError(err)
	s.False(standing.Compliant) // one of two

	s.record("crane-01", "toolbox-talk", "Sam Okafor")
	standing, err = s.service.Standing(s.ctx, s.project.ID, day)
	s.Require().NoError(err)
	s.True(standing.Compliant)
	s.Equal(2, standing.Count)
}

func (s *ComplianceServiceSuite) TestWorkUnitStanding() {
	day := id.DayOf(s.now)

	s.record("crane-01", "walkthrough", "Dana Reyes")
	s.record("crane-01", "toolbox-talk", "Sam Okafor")
	s.record("scaffold-3", "walkthrough", "Dana Reyes")

	s.Run("counts only the named work unit's events", func() {
		crane, err := s.service.WorkUnitStanding(s.ctx, s.project.ID, "crane-01", day)
		s.Require().NoError(err)
		s.True(crane.Compliant)
		s.Equal(2, crane.Count)
		s.Equal(id.WorkUnitID("crane-01"), crane.WorkUnitID)

		scaffold, err := s.service.WorkUnitStanding(s.ctx, s.project.ID, "scaffold-3", day)
		s.Require().NoError(err)
		s.False(scaffold.Compliant)
		s.Equal(1, scaffold.Count)
	})

	s.Run("project standing rolls up across work units", func() {
		standing, err := s.service.Standing(s.ctx, s.project.ID, day)
		s.Require().NoError(err)
		s.Equal(3, standing.Count)
	})

	s.Run("unknown work unit has zero standing", func() {
		standing, err := s.service.WorkUnitStanding(s.ctx, s.project.ID, "hoist-9", day)
		s.Require().NoError(err)
		s.Equal(0, standing.Count)
		s.False(standing.Compliant)
	})
}

func (s *ComplianceServiceSuite) TestCheckProjectAtCutoff() {
	day := id.DayOf(s.now)

	s.Run("non-compliant project gets one alert per day", func() {
		s.Require().NoError(s.service.CheckProjectAtCutoff(s.ctx, s.project, day))
		open, err := s.alerts.ListOpen(s.ctx, s.project.ID)
		s.Require().NoError(err)
		s.Require().Len(open, 1)

		// Repeat checks the same day deduplicate.
		s.Require().NoError(s.service.CheckProjectAtCutoff(s.ctx, s.project, day))
		open, err = s.alerts.ListOpen(s.ctx, s.project.ID)
		s.Require().NoError(err)
		s.Len(open, 1)
	})

	s.Run("compliant project raises nothing new", func() {
		s.record("crane-01", "walkthrough", "Dana Reyes")
		s.record("crane-01", "toolbox-talk", "Sam Okafor")
		s.Require().NoError(s.service.CheckProjectAtCutoff(s.ctx, s.project, day))
		open, err := s.alerts.ListOpen(s.ctx, s.project.ID)
		s.Require().NoError(err)
		s.Len(open, 1) // only the alert from before the day became compliant
	})

	s.Run("project without the compliance flag is skipped", func() {
		exempt := *s.project
		exempt.Flags.ComplianceRequired = false
		nextDay := day.Next()
		s.Require().NoError(s.service.CheckProjectAtCutoff(s.ctx, &exempt, nextDay))
		open, err := s.alerts.ListOpen(s.ctx, s.project.ID)
		s.Require().NoError(err)
		for _, alert := range open {
			s.NotContains(alert.DedupeKey, nextDay.String())
		}
	})
}
