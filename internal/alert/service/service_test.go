package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitegate/internal/alert/models"
	alertstore "sitegate/internal/alert/store"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/requestcontext"
)

type AlertServiceSuite struct {
	suite.Suite
	ctx       context.Context
	auditLog  *auditmemory.InMemoryStore
	service   *AlertService
	projectID id.ProjectID
}

func TestAlertServiceSuite(t *testing.T) {
	suite.Run(t, new(AlertServiceSuite))
}

func (s *AlertServiceSuite) SetupTest() {
	now := time.Date(2025, 6, 12, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ctx = requestcontext.WithActor(s.ctx, "safety-lead")
	s.auditLog = auditmemory.NewInMemoryStore()
	s.service = NewAlertService(alertstore.NewInMemory(), audit.NewRecorder(s.auditLog), slog.New(slog.DiscardHandler))
	s.projectID = id.NewProjectID()
}

func (s *AlertServiceSuite) TestRaise() {
	s.Run("raises once per dedupe key", func() {
		first, err := s.service.Raise(s.ctx, s.projectID, models.KindWeatherThreshold,
			"wind above limit", "weather:p1:2025-06-12:wind_exceeded", map[string]any{"wind_speed_mph": 27.5})
		s.Require().NoError(err)
		s.False(first.Acknowledged)

		second, err := s.service.Raise(s.ctx, s.projectID, models.KindWeatherThreshold,
			"wind above limit", "weather:p1:2025-06-12:wind_exceeded", nil)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)

		open, err := s.service.ListOpen(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Len(open, 1)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableAlerts, first.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionAlertRaised, entries[0].Action)
	})

	s.Run("unknown kind rejected", func() {
		_, err := s.service.Raise(s.ctx, s.projectID, models.Kind("tsunami"), "x", "k", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *AlertServiceSuite) TestAcknowledge() {
	alert, err := s.service.Raise(s.ctx, s.projectID, models.KindSyncFailed,
		"sync item exhausted retries", "sync:item-1:failed", nil)
	s.Require().NoError(err)

	s.Run("first acknowledgment records the actor", func() {
		acked, err := s.service.Acknowledge(s.ctx, alert.ID)
		s.Require().NoError(err)
		s.True(acked.Acknowledged)
		s.Equal("safety-lead", acked.AcknowledgedBy)
		s.Require().NotNil(acked.AcknowledgedAt)
	})

	s.Run("repeat acknowledgment is a no-op", func() {
		laterCtx := requestcontext.WithActor(s.ctx, "someone-else")
		acked, err := s.service.Acknowledge(laterCtx, alert.ID)
		s.Require().NoError(err)
		s.Equal("safety-lead", acked.AcknowledgedBy)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableAlerts, alert.ID.String())
		s.Require().NoError(err)
		s.Len(entries, 2) // raised + first ack only
	})

	s.Run("acknowledged alerts leave the open list", func() {
		open, err := s.service.ListOpen(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Empty(open)
	})

	s.Run("unknown alert returns not found", func() {
		_, err := s.service.Acknowledge(s.ctx, id.NewAlertID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
