// Package models defines compliance events: independent records that a
// required safety verification actually happened on a given day.
package models

import (
	"strings"
	"time"

	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
)

// Event is one recorded verification for a work unit's day. A day is
// compliant once it has enough events, each naming how it was verified and by
// whom.
type Event struct {
	ID         id.ComplianceEventID
	ProjectID  id.ProjectID
	WorkUnitID id.WorkUnitID
	Day        id.Day
	Method     string
	Verifier   string
	Notes      string
	CreatedAt  time.Time
}

// NewEvent validates and constructs an event. Method and verifier are
// mandatory; an event that cannot say how or by whom proves nothing.
func NewEvent(eventID id.ComplianceEventID, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day, method, verifier, notes string, now time.Time) (*Event, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "project id is required")
	}
	if strings.TrimSpace(string(workUnitID)) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "work unit id is required")
	}
	if day.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "day is required")
	}
	method = strings.TrimSpace(method)
	verifier = strings.TrimSpace(verifier)
	if method == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "verification method is required")
	}
	if verifier == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "verifier is required")
	}
	return &Event{
		ID:         eventID,
		ProjectID:  projectID,
		WorkUnitID: workUnitID,
		Day:        day,
		Method:     method,
		Verifier:   verifier,
		Notes:      strings.TrimSpace(notes),
		CreatedAt:  now,
	}, nil
}
