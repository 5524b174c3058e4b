package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	alertservice "sitegate/internal/alert/service"
	alertstore "sitegate/internal/alert/store"
	"sitegate/internal/evidence/models"
	evidencestore "sitegate/internal/evidence/store"
	projectservice "sitegate/internal/project/service"
	projectstore "sitegate/internal/project/store"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/requestcontext"
)

var (
	testSite    = geo.Point{Latitude: 40.7411, Longitude: -73.9897}
	testOnSite  = geo.Point{Latitude: 40.74155, Longitude: -73.9897}
	testOffSite = geo.Point{Latitude: 40.7589, Longitude: -73.9851}
)

type EvidenceServiceSuite struct {
	suite.Suite
	ctx       context.Context
	auditLog  *auditmemory.InMemoryStore
	alerts    *alertservice.AlertService
	service   *EvidenceService
	projectID id.ProjectID
}

func TestEvidenceServiceSuite(t *testing.T) {
	suite.Run(t, new(EvidenceServiceSuite))
}

func (s *EvidenceServiceSuite) SetupTest() {
	now := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ctx = requestcontext.WithActor(s.ctx, "inspector@site")

	logger := slog.New(slog.DiscardHandler)
	s.auditLog = auditmemory.NewInMemoryStore()
	recorder := audit.NewRecorder(s.auditLog)

	projects := projectservice.NewProjectService(projectstore.NewInMemory(), recorder, logger)
	project, err := projects.CreateProject(s.ctx, "Flatiron Tower", testSite, 500, "UTC")
	s.Require().NoError(err)
	s.projectID = project.ID

	s.alerts = alertservice.NewAlertService(alertstore.NewInMemory(), recorder, logger)
	s.service = NewEvidenceService(evidencestore.NewInMemory(), projects, s.alerts, recorder, logger)
}

func (s *EvidenceServiceSuite) capture(payload []byte, location geo.Point) *models.Evidence {
	evidence, err := s.service.Capture(s.ctx, CaptureInput{
		ProjectID:   s.projectID,
		WorkUnitID:  "crane-01",
		Kind:        models.KindPhoto,
		Filename:    "slab.jpg",
		ContentType: "image/jpeg",
		Payload:     payload,
		Location:    location,
	})
	s.Require().NoError(err)
	return evidence
}

func (s *EvidenceServiceSuite) TestCapture() {
	s.Run("hashes the payload and records on-site capture", func() {
		payload := []byte("raw jpeg bytes")
		evidence := s.capture(payload, testOnSite)

		s.Equal(models.HashPayload(payload), evidence.Hash)
		s.Len(evidence.Hash, 64)
		s.False(evidence.OutsideGeofence)
		s.Equal(int64(len(payload)), evidence.SizeBytes)
		s.Equal("inspector@site", evidence.Actor)

		entries, err := s.auditLog.ListByRecord(s.ctx, audit.TableEvidence, evidence.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionEvidenceCaptured, entries[0].Action)
	})

	s.Run("off-site capture is flagged but accepted", func() {
		evidence := s.capture([]byte("far away photo"), testOffSite)
		s.True(evidence.OutsideGeofence)
	})

	s.Run("device identity and provenance are kept with the capture", func() {
		deviceID := id.NewDeviceID()
		provenance := []byte("Exif\x00\x00MM\x00*orientation=6")
		evidence, err := s.service.Capture(s.ctx, CaptureInput{
			ProjectID:   s.projectID,
			WorkUnitID:  "crane-01",
			DeviceID:    deviceID,
			Kind:        models.KindPhoto,
			Filename:    "slab.jpg",
			ContentType: "image/jpeg",
			Payload:     []byte("jpeg with exif"),
			Provenance:  provenance,
			Location:    testOnSite,
		})
		s.Require().NoError(err)
		s.Equal(deviceID, evidence.DeviceID)
		s.Equal(provenance, evidence.Provenance)

		stored, err := s.service.GetEvidence(s.ctx, evidence.ID)
		s.Require().NoError(err)
		s.Equal(deviceID, stored.DeviceID)
		s.Equal(provenance, stored.Provenance)
	})

	s.Run("device falls back to the authenticated context", func() {
		deviceID := id.NewDeviceID()
		deviceCtx := requestcontext.WithDevice(s.ctx, deviceID)
		evidence, err := s.service.Capture(deviceCtx, CaptureInput{
			ProjectID:  s.projectID,
			WorkUnitID: "crane-01",
			Kind:       models.KindPhoto,
			Filename:   "deck.jpg",
			Payload:    []byte("deck photo"),
		})
		s.Require().NoError(err)
		s.Equal(deviceID, evidence.DeviceID)
	})

	s.Run("capture without location is not flagged", func() {
		evidence := s.capture([]byte("no gps fix"), geo.Point{})
		s.False(evidence.OutsideGeofence)
	})

	s.Run("replaying a device-assigned ID returns the original", func() {
		evidenceID := id.NewEvidenceID()
		input := CaptureInput{
			EvidenceID: evidenceID,
			ProjectID:  s.projectID,
			WorkUnitID: "crane-01",
			Kind:       models.KindDocument,
			Filename:   "permit.pdf",
			Payload:    []byte("permit contents"),
		}
		first, err := s.service.Capture(s.ctx, input)
		s.Require().NoError(err)

		input.Payload = []byte("different contents on replay")
		second, err := s.service.Capture(s.ctx, input)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
		s.Equal(first.Hash, second.Hash)
	})

	s.Run("empty payload rejected", func() {
		_, err := s.service.Capture(s.ctx, CaptureInput{
			ProjectID:  s.projectID,
			WorkUnitID: "crane-01",
			Kind:       models.KindPhoto,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *EvidenceServiceSuite) TestAnnotate() {
	evidence := s.capture([]byte("photo"), testOnSite)

	s.Run("annotations append without touching the capture", func() {
		annotated, err := s.service.Annotate(s.ctx, evidence.ID, "crack visible lower left")
		s.Require().NoError(err)
		s.Require().Len(annotated.Annotations, 1)
		s.Equal("inspector@site", annotated.Annotations[0].Author)
		s.Equal(evidence.Hash, annotated.Hash)

		again, err := s.service.Annotate(s.ctx, evidence.ID, "engineer notified")
		s.Require().NoError(err)
		s.Len(again.Annotations, 2)
	})

	s.Run("empty note rejected", func() {
		_, err := s.service.Annotate(s.ctx, evidence.ID, "   ")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *EvidenceServiceSuite) TestVerifyIntegrity() {
	payload := []byte("original capture")
	evidence := s.capture(payload, testOnSite)

	s.Run("matching payload passes", func() {
		result, err := s.service.VerifyIntegrity(s.ctx, evidence.ID, payload)
		s.Require().NoError(err)
		s.True(result.Match)

		open, err := s.alerts.ListOpen(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Empty(open)
	})

	s.Run("tampered payload raises an integrity alert", func() {
		result, err := s.service.VerifyIntegrity(s.ctx, evidence.ID, []byte("tampered capture"))
		s.Require().NoError(err)
		s.False(result.Match)
		s.NotEqual(result.ExpectedHash, result.ActualHash)

		open, err := s.alerts.ListOpen(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		s.Equal("integrity:"+evidence.ID.String(), open[0].DedupeKey)

		// A second failed check deduplicates onto the same alert.
		_, err = s.service.VerifyIntegrity(s.ctx, evidence.ID, []byte("tampered again"))
		s.Require().NoError(err)
		open, err = s.alerts.ListOpen(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Len(open, 1)
	})
}
