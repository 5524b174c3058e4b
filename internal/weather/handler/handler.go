// Package handler exposes the environmental capture API: recent captures for
// the dashboard and acknowledgment of flagged ones.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/weather/models"
	"sitegate/internal/weather/service"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	weather *service.WeatherService
}

func New(weather *service.WeatherService) *Handler {
	return &Handler{weather: weather}
}

// Routes mounts the capture endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/projects/{projectID}/captures", h.listRecent)
	r.Post("/captures/{captureID}/ack", h.acknowledge)
}

type captureResponse struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Source         string          `json:"source"`
	Status         string          `json:"status"`
	Reading        models.Reading  `json:"reading"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	Flagged        bool            `json:"flagged"`
	Reasons        []string        `json:"reasons,omitempty"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CapturedAt     time.Time       `json:"captured_at"`
}

func toCaptureResponse(c *models.Capture) captureResponse {
	return captureResponse{
		ID:             c.ID.String(),
		ProjectID:      c.ProjectID.String(),
		Source:         c.Source,
		Status:         string(c.Status),
		Reading:        c.Reading,
		Raw:            c.Raw,
		Flagged:        c.Flagged,
		Reasons:        c.Reasons,
		Acknowledged:   c.Acknowledged,
		AcknowledgedBy: c.AcknowledgedBy,
		AcknowledgedAt: c.AcknowledgedAt,
		CapturedAt:     c.CapturedAt,
	}
}

func (h *Handler) listRecent(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	captures, err := h.weather.ListRecent(r.Context(), projectID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]captureResponse, 0, len(captures))
	for _, c := range captures {
		out = append(out, toCaptureResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	captureID, err := id.ParseCaptureID(chi.URLParam(r, "captureID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	capture, err := h.weather.AcknowledgeCapture(r.Context(), captureID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCaptureResponse(capture))
}
