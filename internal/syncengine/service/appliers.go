package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	compliancemodels "sitegate/internal/compliance/models"
	evidencemodels "sitegate/internal/evidence/models"
	evidenceservice "sitegate/internal/evidence/service"
	gatemodels "sitegate/internal/gate/models"
	gateservice "sitegate/internal/gate/service"
	"sitegate/internal/syncengine/models"
	weathermodels "sitegate/internal/weather/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/geo"
)

// Applier replays one record type against server state. Implementations must
// be idempotent: the worker may re-apply an item after a crash between the
// apply and the status update.
type Applier interface {
	RecordType() string
	Apply(ctx context.Context, item *models.Item) error
}

// ComplianceRecorder is the compliance slice the sync engine replays into.
type ComplianceRecorder interface {
	RecordVerification(ctx context.Context, eventID id.ComplianceEventID, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day, method, verifier, notes string) (*compliancemodels.Event, error)
}

func parseKey(projectID id.ProjectID, workUnitID, date string) (gatemodels.Key, error) {
	day, err := id.ParseDay(date)
	if err != nil {
		return gatemodels.Key{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD")
	}
	return gatemodels.Key{ProjectID: projectID, WorkUnitID: id.WorkUnitID(workUnitID), Date: day}, nil
}

func decodePayload(item *models.Item, v any) error {
	if err := json.Unmarshal(item.Payload, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed sync payload")
	}
	return nil
}

// gateRecordApplier replays checklist progress and verification for a daily
// gate. Conflict resolution is last-writer-wins on the whole record: an item
// captured before the server copy's last update is discarded, never merged
// field by field.
type gateRecordApplier struct {
	gates *gateservice.GateService
}

func NewGateRecordApplier(gates *gateservice.GateService) Applier {
	return &gateRecordApplier{gates: gates}
}

func (a *gateRecordApplier) RecordType() string { return models.RecordTypeGateRecord }

type gateRecordPayload struct {
	WorkUnitID   string                `json:"work_unit_id"`
	Date         string                `json:"date"`
	Checklist    *gatemodels.Checklist `json:"checklist,omitempty"`
	Verification *struct {
		VerifierName        string   `json:"verifier_name"`
		Signature           string   `json:"signature"`
		CrewAcknowledgments []string `json:"crew_acknowledgments"`
		Latitude            float64  `json:"latitude"`
		Longitude           float64  `json:"longitude"`
	} `json:"verification,omitempty"`
}

func (a *gateRecordApplier) Apply(ctx context.Context, item *models.Item) error {
	var payload gateRecordPayload
	if err := decodePayload(item, &payload); err != nil {
		return err
	}
	key, err := parseKey(item.ProjectID, payload.WorkUnitID, payload.Date)
	if err != nil {
		return err
	}

	schemaID := ""
	if payload.Checklist != nil {
		schemaID = payload.Checklist.SchemaID
	}
	record, err := a.gates.GetGate(ctx, key)
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		record, err = a.gates.Begin(ctx, key, schemaID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				// Raced another replay of the same day; reload.
				record, err = a.gates.GetGate(ctx, key)
			}
			if err != nil {
				return err
			}
		}
	default:
		return err
	}

	if record.UpdatedAt.After(item.CapturedAt) {
		return &models.ConflictError{Reason: "server copy of the gate record is newer"}
	}

	if payload.Checklist != nil {
		if _, err := a.gates.SubmitChecklist(ctx, record.ID, *payload.Checklist); err != nil {
			return translateGateErr(err)
		}
	}
	if payload.Verification != nil && record.Status != gatemodels.StatusVerified {
		input := gatemodels.VerifyInput{
			VerifierName:        payload.Verification.VerifierName,
			Signature:           payload.Verification.Signature,
			CrewAcknowledgments: payload.Verification.CrewAcknowledgments,
			DeviceLocation: geo.Point{
				Latitude:  payload.Verification.Latitude,
				Longitude: payload.Verification.Longitude,
			},
		}
		if _, err := a.gates.Verify(ctx, record.ID, input); err != nil {
			return translateGateErr(err)
		}
	}
	return nil
}

// translateGateErr maps gate-side rejections to sync conflicts. A closed or
// expired gate cannot be reopened by a late device, and unmet verification
// preconditions will not heal on retry.
func translateGateErr(err error) error {
	var verr *gatemodels.VerificationError
	if errors.As(err, &verr) {
		return &models.ConflictError{Reason: verr.Error()}
	}
	if dErrors.HasCode(err, dErrors.CodeConflict) || dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return &models.ConflictError{Reason: err.Error()}
	}
	return err
}

// gatedLogApplier replays daily field reports through the same verified-gate
// check that online writes go through.
type gatedLogApplier struct {
	gates *gateservice.GateService
}

func NewGatedLogApplier(gates *gateservice.GateService) Applier {
	return &gatedLogApplier{gates: gates}
}

func (a *gatedLogApplier) RecordType() string { return models.RecordTypeGatedLog }

type gatedLogPayload struct {
	WorkUnitID string `json:"work_unit_id"`
	Date       string `json:"date"`
	Summary    string `json:"summary"`
	CrewCount  int    `json:"crew_count"`
}

func (a *gatedLogApplier) Apply(ctx context.Context, item *models.Item) error {
	var payload gatedLogPayload
	if err := decodePayload(item, &payload); err != nil {
		return err
	}
	key, err := parseKey(item.ProjectID, payload.WorkUnitID, payload.Date)
	if err != nil {
		return err
	}

	_, err = a.gates.CreateGatedLog(ctx, key, payload.Summary, payload.CrewCount)
	if err == nil {
		return nil
	}
	var blocked *gatemodels.GateBlockedError
	if errors.As(err, &blocked) {
		return &models.ConflictError{Reason: blocked.Reason}
	}
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		// A log already exists for this day. If it matches this item we are
		// re-applying our own earlier write; otherwise the first log wins.
		existing, getErr := a.gates.GetGatedLog(ctx, key)
		if getErr == nil && existing.Summary == payload.Summary && existing.CrewCount == payload.CrewCount {
			return nil
		}
		return &models.ConflictError{Reason: "a log already exists for this work unit and date"}
	}
	return err
}

// evidenceApplier replays evidence captures. The evidence service is already
// idempotent on the device-assigned evidence ID.
type evidenceApplier struct {
	evidence *evidenceservice.EvidenceService
}

func NewEvidenceApplier(evidence *evidenceservice.EvidenceService) Applier {
	return &evidenceApplier{evidence: evidence}
}

func (a *evidenceApplier) RecordType() string { return models.RecordTypeEvidence }

type evidencePayload struct {
	WorkUnitID  string  `json:"work_unit_id"`
	Kind        string  `json:"kind"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Payload     []byte  `json:"payload"`
	Provenance  []byte  `json:"provenance,omitempty"`
	CapturedAt  string  `json:"captured_at,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

func (a *evidenceApplier) Apply(ctx context.Context, item *models.Item) error {
	var payload evidencePayload
	if err := decodePayload(item, &payload); err != nil {
		return err
	}
	evidenceID, err := id.ParseEvidenceID(item.RecordID)
	if err != nil {
		return err
	}

	_, err = a.evidence.Capture(ctx, evidenceservice.CaptureInput{
		EvidenceID:  evidenceID,
		ProjectID:   item.ProjectID,
		WorkUnitID:  id.WorkUnitID(payload.WorkUnitID),
		DeviceID:    item.DeviceID,
		Kind:        evidencemodels.Kind(payload.Kind),
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Payload:     payload.Payload,
		Provenance:  payload.Provenance,
		CapturedAt:  payload.CapturedAt,
		Location:    geo.Point{Latitude: payload.Latitude, Longitude: payload.Longitude},
	})
	return err
}

// envCaptureApplier replays environmental readings taken by devices with local
// sensors while offline.
type envCaptureApplier struct {
	weather WeatherRecorder
}

// WeatherRecorder is the environmental-monitor slice the sync engine needs.
type WeatherRecorder interface {
	RecordCapture(ctx context.Context, captureID id.CaptureID, projectID id.ProjectID, source string, obs weathermodels.Observation, capturedAt time.Time) (*weathermodels.Capture, error)
}

func NewEnvCaptureApplier(weather WeatherRecorder) Applier {
	return &envCaptureApplier{weather: weather}
}

func (a *envCaptureApplier) RecordType() string { return models.RecordTypeEnvCapture }

type envCapturePayload struct {
	Source     string                `json:"source"`
	Reading    weathermodels.Reading `json:"reading"`
	Raw        json.RawMessage       `json:"raw,omitempty"`
	CapturedAt time.Time             `json:"captured_at"`
}

func (a *envCaptureApplier) Apply(ctx context.Context, item *models.Item) error {
	var payload envCapturePayload
	if err := decodePayload(item, &payload); err != nil {
		return err
	}
	captureID, err := id.ParseCaptureID(item.RecordID)
	if err != nil {
		return err
	}
	obs := weathermodels.Observation{Reading: payload.Reading, Raw: payload.Raw}
	_, err = a.weather.RecordCapture(ctx, captureID, item.ProjectID, payload.Source, obs, payload.CapturedAt)
	return err
}

// complianceApplier replays verification events recorded offline.
type complianceApplier struct {
	compliance ComplianceRecorder
}

func NewComplianceApplier(compliance ComplianceRecorder) Applier {
	return &complianceApplier{compliance: compliance}
}

func (a *complianceApplier) RecordType() string { return models.RecordTypeComplianceEvent }

type compliancePayload struct {
	WorkUnitID string `json:"work_unit_id"`
	Date       string `json:"date"`
	Method     string `json:"method"`
	Verifier   string `json:"verifier"`
	Notes      string `json:"notes,omitempty"`
}

func (a *complianceApplier) Apply(ctx context.Context, item *models.Item) error {
	var payload compliancePayload
	if err := decodePayload(item, &payload); err != nil {
		return err
	}
	eventID, err := id.ParseComplianceEventID(item.RecordID)
	if err != nil {
		return err
	}
	day, err := id.ParseDay(payload.Date)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "date must be YYYY-MM-DD")
	}
	_, err = a.compliance.RecordVerification(ctx, eventID, item.ProjectID, id.WorkUnitID(payload.WorkUnitID), day, payload.Method, payload.Verifier, payload.Notes)
	return err
}
