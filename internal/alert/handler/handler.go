// Package handler exposes the alert dashboard API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/alert/models"
	"sitegate/internal/alert/service"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	alerts *service.AlertService
}

func New(alerts *service.AlertService) *Handler {
	return &Handler{alerts: alerts}
}

// Routes mounts the alert endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/alerts", h.listOpen)
	r.Get("/alerts/{alertID}", h.getAlert)
	r.Post("/alerts/{alertID}/ack", h.acknowledge)
}

type alertResponse struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Kind           string     `json:"kind"`
	Message        string     `json:"message"`
	Details        any        `json:"details,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toAlertResponse(a *models.Alert) alertResponse {
	resp := alertResponse{
		ID:             a.ID.String(),
		ProjectID:      a.ProjectID.String(),
		Kind:           string(a.Kind),
		Message:        a.Message,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
		CreatedAt:      a.CreatedAt,
	}
	if len(a.Details) > 0 {
		resp.Details = a.Details
	}
	return resp
}

func (h *Handler) listOpen(w http.ResponseWriter, r *http.Request) {
	var projectID id.ProjectID
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		parsed, err := id.ParseProjectID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		projectID = parsed
	}

	alerts, err := h.alerts.ListOpen(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(chi.URLParam(r, "alertID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	alert, err := h.alerts.GetAlert(r.Context(), alertID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(chi.URLParam(r, "alertID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	alert, err := h.alerts.Acknowledge(r.Context(), alertID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertResponse(alert))
}
