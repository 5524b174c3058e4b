// Package models defines the Project aggregate: the registered site, its
// geofence, its environmental thresholds and its feature flags. Projects are
// never deleted, only deactivated.
package models

import (
	"time"

	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/geo"
)

// Status of a project.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Thresholds are the per-project environmental limits. All comparisons are
// strict: a reading exactly at the limit does not flag.
type Thresholds struct {
	WindSpeedMph    float64 `json:"wind_speed_mph"`
	PrecipitationIn float64 `json:"precipitation_in"`
	TempMinF        float64 `json:"temp_min_f"`
	TempMaxF        float64 `json:"temp_max_f"`
}

// Flags enable or disable gated workflows per project.
type Flags struct {
	GateRequired       bool `json:"gate_required"`
	ComplianceRequired bool `json:"compliance_required"`
}

// Project is a construction site under management.
type Project struct {
	ID              id.ProjectID
	Name            string
	Location        geo.Point
	GeofenceRadiusM float64
	Timezone        string
	Thresholds      Thresholds
	Flags           Flags
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewProject validates and constructs an active project.
func NewProject(projectID id.ProjectID, name string, location geo.Point, radiusM float64, timezone string, now time.Time) (*Project, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project name is required")
	}
	if location.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project location is required")
	}
	if radiusM <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "geofence radius must be positive")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown timezone %q", timezone)
	}
	return &Project{
		ID:              projectID,
		Name:            name,
		Location:        location,
		GeofenceRadiusM: radiusM,
		Timezone:        timezone,
		Thresholds:      DefaultThresholds(),
		Flags:           Flags{GateRequired: true, ComplianceRequired: true},
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// DefaultThresholds mirror common jobsite stop-work limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WindSpeedMph:    20,
		PrecipitationIn: 0.5,
		TempMinF:        20,
		TempMaxF:        100,
	}
}

// IsActive reports whether the project accepts new gated records.
func (p *Project) IsActive() bool { return p.Status == StatusActive }

// Loc resolves the project's IANA timezone; UTC when unresolvable.
func (p *Project) Loc() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CanDeactivate validates the deactivation transition.
func (p *Project) CanDeactivate() error {
	if p.Status == StatusInactive {
		return dErrors.New(dErrors.CodeInvariantViolation, "project is already inactive")
	}
	return nil
}

// ApplyDeactivation transitions the project to inactive.
func (p *Project) ApplyDeactivation(now time.Time) {
	p.Status = StatusInactive
	p.UpdatedAt = now
}

// CanReactivate validates the reactivation transition.
func (p *Project) CanReactivate() error {
	if p.Status == StatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "project is already active")
	}
	return nil
}

// ApplyReactivation transitions the project back to active.
func (p *Project) ApplyReactivation(now time.Time) {
	p.Status = StatusActive
	p.UpdatedAt = now
}

// ValidateThresholds rejects inverted temperature bounds and negative limits.
func ValidateThresholds(t Thresholds) error {
	if t.WindSpeedMph < 0 || t.PrecipitationIn < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "thresholds must be non-negative")
	}
	if t.TempMinF >= t.TempMaxF {
		return dErrors.New(dErrors.CodeBadRequest, "temperature minimum must be below maximum")
	}
	return nil
}
