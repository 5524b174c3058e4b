// Package models defines registered field devices. A device is the identity
// offline work is attributed to; every synced mutation names the device that
// captured it.
package models

import (
	"strings"
	"time"

	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
)

// Device is a registered field tablet or phone.
type Device struct {
	ID           id.DeviceID
	Name         string
	SecretHash   []byte
	Active       bool
	RegisteredBy string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDevice validates and constructs an active device.
func NewDevice(deviceID id.DeviceID, name string, secretHash []byte, registeredBy string, now time.Time) (*Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "device name is required")
	}
	if len(secretHash) == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "device secret hash is required")
	}
	return &Device{
		ID:           deviceID,
		Name:         name,
		SecretHash:   secretHash,
		Active:       true,
		RegisteredBy: registeredBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Deactivate revokes the device. Tokens already issued expire on their own;
// new token requests are refused immediately.
func (d *Device) Deactivate(now time.Time) {
	d.Active = false
	d.UpdatedAt = now
}
