// Package handler exposes the evidence API used by field devices. Payloads
// arrive base64-encoded inside the JSON body; sizes stay small because the
// device keeps the original media and sends the server a hashable copy.
package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/evidence/models"
	"sitegate/internal/evidence/service"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/geo"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	evidence *service.EvidenceService
}

func New(evidence *service.EvidenceService) *Handler {
	return &Handler{evidence: evidence}
}

// Routes mounts the evidence endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/evidence", h.capture)
	r.Get("/evidence/{evidenceID}", h.getEvidence)
	r.Get("/projects/{projectID}/work-units/{workUnitID}/evidence", h.listByWorkUnit)
	r.Post("/evidence/{evidenceID}/annotations", h.annotate)
	r.Post("/evidence/{evidenceID}/verify", h.verifyIntegrity)
}

type captureRequest struct {
	EvidenceID  string  `json:"evidence_id,omitempty"`
	ProjectID   string  `json:"project_id"`
	WorkUnitID  string  `json:"work_unit_id"`
	DeviceID    string  `json:"device_id,omitempty"`
	Kind        string  `json:"kind"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Payload     string  `json:"payload"`
	Provenance  string  `json:"provenance,omitempty"`
	CapturedAt  string  `json:"captured_at,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

type evidenceResponse struct {
	ID              string              `json:"id"`
	ProjectID       string              `json:"project_id"`
	WorkUnitID      string              `json:"work_unit_id"`
	DeviceID        string              `json:"device_id,omitempty"`
	Kind            string              `json:"kind"`
	Filename        string              `json:"filename"`
	ContentType     string              `json:"content_type"`
	SizeBytes       int64               `json:"size_bytes"`
	Hash            string              `json:"hash"`
	CapturedAt      time.Time           `json:"captured_at"`
	OutsideGeofence bool                `json:"outside_geofence"`
	Provenance      []byte              `json:"provenance,omitempty"`
	Annotations     []models.Annotation `json:"annotations,omitempty"`
	Actor           string              `json:"actor"`
}

func toEvidenceResponse(e *models.Evidence) evidenceResponse {
	resp := evidenceResponse{
		ID:              e.ID.String(),
		ProjectID:       e.ProjectID.String(),
		WorkUnitID:      string(e.WorkUnitID),
		Kind:            string(e.Kind),
		Filename:        e.Filename,
		ContentType:     e.ContentType,
		SizeBytes:       e.SizeBytes,
		Hash:            e.Hash,
		CapturedAt:      e.CapturedAt,
		OutsideGeofence: e.OutsideGeofence,
		Provenance:      e.Provenance,
		Annotations:     e.Annotations,
		Actor:           e.Actor,
	}
	if !e.DeviceID.IsNil() {
		resp.DeviceID = e.DeviceID.String()
	}
	return resp
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	projectID, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var evidenceID id.EvidenceID
	if req.EvidenceID != "" {
		evidenceID, err = id.ParseEvidenceID(req.EvidenceID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	var deviceID id.DeviceID
	if req.DeviceID != "" {
		deviceID, err = id.ParseDeviceID(req.DeviceID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "payload must be base64"))
		return
	}
	provenance, err := base64.StdEncoding.DecodeString(req.Provenance)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "provenance must be base64"))
		return
	}

	evidence, err := h.evidence.Capture(r.Context(), service.CaptureInput{
		EvidenceID:  evidenceID,
		ProjectID:   projectID,
		WorkUnitID:  id.WorkUnitID(req.WorkUnitID),
		DeviceID:    deviceID,
		Kind:        models.Kind(req.Kind),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Payload:     payload,
		Provenance:  provenance,
		CapturedAt:  req.CapturedAt,
		Location:    geo.Point{Latitude: req.Latitude, Longitude: req.Longitude},
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEvidenceResponse(evidence))
}

func (h *Handler) getEvidence(w http.ResponseWriter, r *http.Request) {
	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	evidence, err := h.evidence.GetEvidence(r.Context(), evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEvidenceResponse(evidence))
}

func (h *Handler) listByWorkUnit(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	evidence, err := h.evidence.ListByWorkUnit(r.Context(), projectID, id.WorkUnitID(chi.URLParam(r, "workUnitID")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]evidenceResponse, 0, len(evidence))
	for _, e := range evidence {
		out = append(out, toEvidenceResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type annotateRequest struct {
	Note string `json:"note"`
}

func (h *Handler) annotate(w http.ResponseWriter, r *http.Request) {
	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req annotateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	evidence, err := h.evidence.Annotate(r.Context(), evidenceID, req.Note)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEvidenceResponse(evidence))
}

type verifyRequest struct {
	Payload string `json:"payload"`
}

func (h *Handler) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "payload must be base64"))
		return
	}

	result, err := h.evidence.VerifyIntegrity(r.Context(), evidenceID, payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"evidence_id":   result.EvidenceID.String(),
		"match":         result.Match,
		"expected_hash": result.ExpectedHash,
		"actual_hash":   result.ActualHash,
	})
}
