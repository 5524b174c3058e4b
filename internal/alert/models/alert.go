// Package models defines operational alerts surfaced on the safety dashboard:
// weather threshold breaches, missing compliance verifications, exhausted sync
// items and evidence integrity violations.
package models

import (
	"encoding/json"
	"time"

	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
)

// Kind classifies an alert.
type Kind string

const (
	KindWeatherThreshold   Kind = "weather_threshold"
	KindComplianceMissing  Kind = "compliance_missing"
	KindSyncFailed         Kind = "sync_failed"
	KindIntegrityViolation Kind = "integrity_violation"
)

// Alert is a dashboard notification. Alerts are deduplicated on DedupeKey so
// repeated detection of the same condition raises one alert, not a flood.
type Alert struct {
	ID             id.AlertID
	ProjectID      id.ProjectID
	Kind           Kind
	Message        string
	DedupeKey      string
	Details        json.RawMessage
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// NewAlert validates and constructs an unacknowledged alert.
func NewAlert(alertID id.AlertID, projectID id.ProjectID, kind Kind, message, dedupeKey string, details json.RawMessage, now time.Time) (*Alert, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	if message == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "alert message is required")
	}
	if dedupeKey == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "alert dedupe key is required")
	}
	switch kind {
	case KindWeatherThreshold, KindComplianceMissing, KindSyncFailed, KindIntegrityViolation:
	default:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown alert kind %q", kind)
	}
	return &Alert{
		ID:        alertID,
		ProjectID: projectID,
		Kind:      kind,
		Message:   message,
		DedupeKey: dedupeKey,
		Details:   details,
		CreatedAt: now,
	}, nil
}

// Acknowledge marks the alert handled. Acknowledging twice is a no-op; the
// first acknowledger wins.
func (a *Alert) Acknowledge(by string, now time.Time) {
	if a.Acknowledged {
		return
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	ackedAt := now
	a.AcknowledgedAt = &ackedAt
}
