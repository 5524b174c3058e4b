// Package domain holds typed identifiers and calendar primitives shared by
// every module. IDs are distinct types over uuid.UUID so the compiler rejects
// cross-entity assignment; construct them via the Parse helpers at trust
// boundaries.
package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "sitegate/pkg/domain-errors"
)

type (
	// ProjectID identifies a construction project.
	ProjectID uuid.UUID
	// GateRecordID identifies a daily safety verification record.
	GateRecordID uuid.UUID
	// GatedLogID identifies a daily field report.
	GatedLogID uuid.UUID
	// EvidenceID identifies a captured photo evidence record.
	EvidenceID uuid.UUID
	// CaptureID identifies an environmental capture.
	CaptureID uuid.UUID
	// ComplianceEventID identifies a per-day compliance event.
	ComplianceEventID uuid.UUID
	// AlertID identifies a dashboard alert.
	AlertID uuid.UUID
	// SyncItemID identifies a queued offline mutation.
	SyncItemID uuid.UUID
	// DeviceID identifies a registered field device.
	DeviceID uuid.UUID
)

// WorkUnitID names a crew/work unit within a project. Free-form but never
// empty on gated records.
type WorkUnitID string

func (w WorkUnitID) String() string { return string(w) }

// IsNil reports whether the work unit is unset.
func (w WorkUnitID) IsNil() bool { return w == "" }

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	// uuid.Parse accepts some exotic encodings; keep the strict canonical form.
	if len(s) != 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s id", kind))
	}
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s id", kind))
	}
	return u, nil
}

// ParseProjectID validates and returns a ProjectID.
func ParseProjectID(s string) (ProjectID, error) {
	u, err := parseUUID("project", s)
	return ProjectID(u), err
}

// ParseGateRecordID validates and returns a GateRecordID.
func ParseGateRecordID(s string) (GateRecordID, error) {
	u, err := parseUUID("gate record", s)
	return GateRecordID(u), err
}

// ParseGatedLogID validates and returns a GatedLogID.
func ParseGatedLogID(s string) (GatedLogID, error) {
	u, err := parseUUID("gated log", s)
	return GatedLogID(u), err
}

// ParseEvidenceID validates and returns an EvidenceID.
func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID("evidence", s)
	return EvidenceID(u), err
}

// ParseCaptureID validates and returns a CaptureID.
func ParseCaptureID(s string) (CaptureID, error) {
	u, err := parseUUID("capture", s)
	return CaptureID(u), err
}

// ParseComplianceEventID validates and returns a ComplianceEventID.
func ParseComplianceEventID(s string) (ComplianceEventID, error) {
	u, err := parseUUID("compliance event", s)
	return ComplianceEventID(u), err
}

// ParseAlertID validates and returns an AlertID.
func ParseAlertID(s string) (AlertID, error) {
	u, err := parseUUID("alert", s)
	return AlertID(u), err
}

// ParseSyncItemID validates and returns a SyncItemID.
func ParseSyncItemID(s string) (SyncItemID, error) {
	u, err := parseUUID("sync item", s)
	return SyncItemID(u), err
}

// ParseDeviceID validates and returns a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := parseUUID("device", s)
	return DeviceID(u), err
}

func (id ProjectID) String() string         { return uuid.UUID(id).String() }
func (id GateRecordID) String() string      { return uuid.UUID(id).String() }
func (id GatedLogID) String() string        { return uuid.UUID(id).String() }
func (id EvidenceID) String() string        { return uuid.UUID(id).String() }
func (id CaptureID) String() string         { return uuid.UUID(id).String() }
func (id ComplianceEventID) String() string { return uuid.UUID(id).String() }
func (id AlertID) String() string           { return uuid.UUID(id).String() }
func (id SyncItemID) String() string        { return uuid.UUID(id).String() }
func (id DeviceID) String() string          { return uuid.UUID(id).String() }

func (id ProjectID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id GateRecordID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id GatedLogID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CaptureID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ComplianceEventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AlertID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id SyncItemID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id DeviceID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }

// NewProjectID returns a fresh random ProjectID.
func NewProjectID() ProjectID { return ProjectID(uuid.New()) }

// NewGateRecordID returns a fresh random GateRecordID.
func NewGateRecordID() GateRecordID { return GateRecordID(uuid.New()) }

// NewGatedLogID returns a fresh random GatedLogID.
func NewGatedLogID() GatedLogID { return GatedLogID(uuid.New()) }

// NewEvidenceID returns a fresh random EvidenceID.
func NewEvidenceID() EvidenceID { return EvidenceID(uuid.New()) }

// NewCaptureID returns a fresh random CaptureID.
func NewCaptureID() CaptureID { return CaptureID(uuid.New()) }

// NewComplianceEventID returns a fresh random ComplianceEventID.
func NewComplianceEventID() ComplianceEventID { return ComplianceEventID(uuid.New()) }

// NewAlertID returns a fresh random AlertID.
func NewAlertID() AlertID { return AlertID(uuid.New()) }

// NewSyncItemID returns a fresh random SyncItemID.
func NewSyncItemID() SyncItemID { return SyncItemID(uuid.New()) }

// NewDeviceID returns a fresh random DeviceID.
func NewDeviceID() DeviceID { return DeviceID(uuid.New()) }
