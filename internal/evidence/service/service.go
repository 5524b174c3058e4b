// Package service implements evidence capture and integrity verification.
// Payloads are hashed before any transformation; the server keeps the hash and
// metadata while the device retains the original media.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	alertmodels "sitegate/internal/alert/models"
	evidencemetrics "sitegate/internal/evidence/metrics"
	"sitegate/internal/evidence/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/platform/tx"
	"sitegate/pkg/requestcontext"
)

// EvidenceStore is the persistence contract for evidence.
type EvidenceStore interface {
	CreateIfAbsent(ctx context.Context, evidence *models.Evidence) (*models.Evidence, error)
	FindByID(ctx context.Context, evidenceID id.EvidenceID) (*models.Evidence, error)
	AppendAnnotation(ctx context.Context, evidenceID id.EvidenceID, annotation models.Annotation) (*models.Evidence, error)
	ListByWorkUnit(ctx context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID) ([]*models.Evidence, error)
}

// GeofenceLookup resolves a project's location and fence radius.
type GeofenceLookup interface {
	Geofence(ctx context.Context, projectID id.ProjectID) (geo.Point, float64, error)
}

// Alerter raises dashboard alerts for integrity violations.
type Alerter interface {
	Raise(ctx context.Context, projectID id.ProjectID, kind alertmodels.Kind, message, dedupeKey string, details any) (*alertmodels.Alert, error)
}

// CaptureInput is everything a device submits with a capture. EvidenceID may
// be set by the device so offline captures replayed through sync stay
// idempotent; when nil the server assigns one.
type CaptureInput struct {
	EvidenceID  id.EvidenceID
	ProjectID   id.ProjectID
	WorkUnitID  id.WorkUnitID
	DeviceID    id.DeviceID
	Kind        models.Kind
	Filename    string
	ContentType string
	Payload     []byte
	Provenance  []byte
	CapturedAt  string
	Location    geo.Point
}

// IntegrityResult is the outcome of a verification.
type IntegrityResult struct {
	EvidenceID   id.EvidenceID
	Match        bool
	ExpectedHash string
	ActualHash   string
}

// EvidenceService captures and verifies evidence.
type EvidenceService struct {
	evidence EvidenceStore
	projects GeofenceLookup
	alerts   Alerter
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *evidencemetrics.Metrics
	tx       tx.Runner
}

// Option configures the service.
type Option func(*EvidenceService)

// WithMetrics attaches module metrics.
func WithMetrics(m *evidencemetrics.Metrics) Option {
	return func(s *EvidenceService) { s.metrics = m }
}

// WithTxRunner overrides the transaction runner (Postgres wiring).
func WithTxRunner(runner tx.Runner) Option {
	return func(s *EvidenceService) { s.tx = runner }
}

// NewEvidenceService builds the service.
func NewEvidenceService(evidence EvidenceStore, projects GeofenceLookup, alerts Alerter, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *EvidenceService {
	s := &EvidenceService{
		evidence: evidence,
		projects: projects,
		alerts:   alerts,
		recorder: recorder,
		logger:   logger,
		tx:       tx.PassThrough{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture hashes the payload and records the evidence. A capture taken outside
// the project geofence is flagged but never rejected: field conditions beat
// GPS accuracy, and a flagged photo is worth more than no photo. Replaying a
// capture with an ID that already exists returns the stored record unchanged.
func (s *EvidenceService) Capture(ctx context.Context, input CaptureInput) (*models.Evidence, error) {
	site, radiusM, err := s.projects.Geofence(ctx, input.ProjectID)
	if err != nil {
		return nil, err
	}
	outside := !input.Location.IsZero() && !geo.WithinRadius(site, input.Location, radiusM)

	now := requestcontext.Now(ctx)
	capturedAt := now
	if input.CapturedAt != "" {
		parsed, err := parseCapturedAt(input.CapturedAt)
		if err != nil {
			return nil, err
		}
		capturedAt = parsed
	}
	evidenceID := input.EvidenceID
	if evidenceID.IsNil() {
		evidenceID = id.NewEvidenceID()
	}
	deviceID := input.DeviceID
	if deviceID.IsNil() {
		deviceID = requestcontext.Device(ctx)
	}

	record, err := models.NewEvidence(evidenceID, input.ProjectID, input.WorkUnitID, deviceID,
		input.Kind, input.Filename, input.ContentType, input.Payload, input.Provenance,
		capturedAt, input.Location, outside, requestcontext.Actor(ctx), now)
	if err != nil {
		return nil, err
	}

	var stored *models.Evidence
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		created, err := s.evidence.CreateIfAbsent(txCtx, record)
		if err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				stored = created
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store evidence")
		}
		if err := s.recorder.Record(txCtx, audit.TableEvidence, created.ID.String(), audit.ActionEvidenceCaptured, nil, created); err != nil {
			return err
		}
		stored = created

		if s.metrics != nil {
			s.metrics.Captured.WithLabelValues(string(created.Kind)).Inc()
			if created.OutsideGeofence {
				s.metrics.OutsideGeofence.Inc()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "evidence captured",
		"evidence_id", stored.ID.String(),
		"project_id", stored.ProjectID.String(),
		"kind", string(stored.Kind),
		"outside_geofence", stored.OutsideGeofence)
	return stored, nil
}

// GetEvidence returns one record.
func (s *EvidenceService) GetEvidence(ctx context.Context, evidenceID id.EvidenceID) (*models.Evidence, error) {
	if evidenceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "evidence id is required")
	}
	evidence, err := s.evidence.FindByID(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "evidence not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "evidence store failure")
	}
	return evidence, nil
}

// ListByWorkUnit returns a work unit's evidence, oldest first.
func (s *EvidenceService) ListByWorkUnit(ctx context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID) ([]*models.Evidence, error) {
	evidence, err := s.evidence.ListByWorkUnit(ctx, projectID, workUnitID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "evidence store failure")
	}
	return evidence, nil
}

// Annotate appends a note to existing evidence. The capture itself never
// changes; annotating cannot touch the hash.
func (s *EvidenceService) Annotate(ctx context.Context, evidenceID id.EvidenceID, note string) (*models.Evidence, error) {
	if evidenceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "evidence id is required")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "annotation note is required")
	}

	annotation := models.Annotation{
		Author:    requestcontext.Actor(ctx),
		Note:      note,
		CreatedAt: requestcontext.Now(ctx),
	}
	evidence, err := s.evidence.AppendAnnotation(ctx, evidenceID, annotation)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "evidence not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "evidence store failure")
	}

	if err := s.recorder.Record(ctx, audit.TableEvidence, evidenceID.String(), audit.ActionEvidenceAnnotated, nil, annotation); err != nil {
		return nil, err
	}
	return evidence, nil
}

// VerifyIntegrity re-hashes a payload against the recorded hash. A mismatch
// raises an integrity violation alert; the evidence record itself is left as
// captured, since the stored hash is the trustworthy side.
func (s *EvidenceService) VerifyIntegrity(ctx context.Context, evidenceID id.EvidenceID, payload []byte) (*IntegrityResult, error) {
	evidence, err := s.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}

	actual := models.HashPayload(payload)
	result := &IntegrityResult{
		EvidenceID:   evidenceID,
		Match:        actual == evidence.Hash,
		ExpectedHash: evidence.Hash,
		ActualHash:   actual,
	}
	if s.metrics != nil {
		s.metrics.IntegrityChecks.Inc()
	}
	if result.Match {
		return result, nil
	}

	if s.metrics != nil {
		s.metrics.IntegrityViolations.Inc()
	}
	s.logger.ErrorContext(ctx, "evidence integrity violation",
		"evidence_id", evidenceID.String(),
		"project_id", evidence.ProjectID.String(),
		"expected_hash", evidence.Hash,
		"actual_hash", actual)
	if _, err := s.alerts.Raise(ctx, evidence.ProjectID, alertmodels.KindIntegrityViolation,
		"evidence payload no longer matches its capture hash",
		"integrity:"+evidenceID.String(),
		map[string]string{
			"evidence_id":   evidenceID.String(),
			"expected_hash": evidence.Hash,
			"actual_hash":   actual,
		}); err != nil {
		return nil, err
	}
	return result, nil
}

func parseCapturedAt(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "captured_at must be RFC 3339")
	}
	return t, nil
}
