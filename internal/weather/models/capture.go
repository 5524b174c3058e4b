// Package models defines environmental captures: point-in-time site weather
// readings evaluated against per-project thresholds.
package models

import (
	"encoding/json"
	"time"

	projectmodels "sitegate/internal/project/models"
	id "sitegate/pkg/domain"
)

// Status of a capture. A capture is recorded even when the weather source is
// down, so the daily record shows the gap instead of silently missing it.
type Status string

const (
	StatusOK                Status = "ok"
	StatusSourceUnavailable Status = "source_unavailable"
)

// Flag reason codes. Comparisons against thresholds are strict: a reading
// exactly at the limit does not flag.
const (
	ReasonWindExceeded        = "wind_exceeded"
	ReasonPrecipitationExceed = "precipitation_exceeded"
	ReasonTemperatureBelowMin = "temperature_below_min"
	ReasonTemperatureAboveMax = "temperature_above_max"
)

// Reading is one normalized observation from a weather source.
type Reading struct {
	WindSpeedMph    float64 `json:"wind_speed_mph"`
	WindGustMph     float64 `json:"wind_gust_mph,omitempty"`
	PrecipitationIn float64 `json:"precipitation_in"`
	TempF           float64 `json:"temp_f"`
	Conditions      string  `json:"conditions,omitempty"`
}

// Observation pairs the normalized reading with the provider's response body,
// kept byte-for-byte for dispute resolution.
type Observation struct {
	Reading Reading
	Raw     json.RawMessage
}

// Capture is a stored reading with its evaluation outcome. Raw is the provider
// payload exactly as received; it is never parsed again after normalization.
type Capture struct {
	ID             id.CaptureID
	ProjectID      id.ProjectID
	Source         string
	Status         Status
	Reading        Reading
	Raw            json.RawMessage
	Flagged        bool
	Reasons        []string
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	CapturedAt     time.Time
	CreatedAt      time.Time
}

// Evaluate returns the reason codes a reading trips under the thresholds.
// All four limits are checked; a single reading can flag several at once.
func Evaluate(r Reading, t projectmodels.Thresholds) []string {
	var reasons []string
	if r.WindSpeedMph > t.WindSpeedMph {
		reasons = append(reasons, ReasonWindExceeded)
	}
	if r.PrecipitationIn > t.PrecipitationIn {
		reasons = append(reasons, ReasonPrecipitationExceed)
	}
	if r.TempF < t.TempMinF {
		reasons = append(reasons, ReasonTemperatureBelowMin)
	}
	if r.TempF > t.TempMaxF {
		reasons = append(reasons, ReasonTemperatureAboveMax)
	}
	return reasons
}

// NewCapture constructs an evaluated capture.
func NewCapture(captureID id.CaptureID, projectID id.ProjectID, source string, obs Observation, thresholds projectmodels.Thresholds, capturedAt, now time.Time) *Capture {
	reasons := Evaluate(obs.Reading, thresholds)
	return &Capture{
		ID:         captureID,
		ProjectID:  projectID,
		Source:     source,
		Status:     StatusOK,
		Reading:    obs.Reading,
		Raw:        obs.Raw,
		Flagged:    len(reasons) > 0,
		Reasons:    reasons,
		CapturedAt: capturedAt,
		CreatedAt:  now,
	}
}

// NewUnavailableCapture records a failed fetch. It carries no reading and is
// never flagged; its presence is the signal.
func NewUnavailableCapture(captureID id.CaptureID, projectID id.ProjectID, source string, capturedAt, now time.Time) *Capture {
	return &Capture{
		ID:         captureID,
		ProjectID:  projectID,
		Source:     source,
		Status:     StatusSourceUnavailable,
		CapturedAt: capturedAt,
		CreatedAt:  now,
	}
}

// Acknowledge marks a flagged capture reviewed. Repeat calls are no-ops.
func (c *Capture) Acknowledge(by string, now time.Time) {
	if c.Acknowledged {
		return
	}
	c.Acknowledged = true
	c.AcknowledgedBy = by
	ackedAt := now
	c.AcknowledgedAt = &ackedAt
}
