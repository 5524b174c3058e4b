// Package handler exposes the device registry API. Registration and
// deactivation sit behind the admin token; the token exchange is open because
// the device proves itself with its secret.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sitegate/internal/device/models"
	"sitegate/internal/device/service"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/httputil"
)

type Handler struct {
	devices *service.DeviceService
}

func New(devices *service.DeviceService) *Handler {
	return &Handler{devices: devices}
}

// AdminRoutes mounts the registry management endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/devices", h.register)
	r.Get("/devices", h.list)
	r.Get("/devices/{deviceID}", h.get)
	r.Post("/devices/{deviceID}/deactivate", h.deactivate)
}

// PublicRoutes mounts the token exchange.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/device-tokens", h.issueToken)
}

type deviceResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	RegisteredBy string    `json:"registered_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toDeviceResponse(d *models.Device) deviceResponse {
	return deviceResponse{
		ID:           d.ID.String(),
		Name:         d.Name,
		Active:       d.Active,
		RegisteredBy: d.RegisteredBy,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	device, secret, err := h.devices.Register(r.Context(), req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"device": toDeviceResponse(device),
		// Shown once; only the hash survives server-side.
		"secret": secret,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListDevices(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, device := range devices {
		out = append(out, toDeviceResponse(device))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func deviceIDParam(r *http.Request) (id.DeviceID, error) {
	deviceID, err := id.ParseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		return id.DeviceID{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "device id must be a UUID")
	}
	return deviceID, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	deviceID, err := deviceIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeviceResponse(device))
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	deviceID, err := deviceIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	device, err := h.devices.Deactivate(r.Context(), deviceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeviceResponse(device))
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		Secret   string `json:"secret"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	deviceID, err := id.ParseDeviceID(req.DeviceID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "device id must be a UUID"))
		return
	}
	token, expiresAt, err := h.devices.IssueToken(r.Context(), deviceID, req.Secret)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
