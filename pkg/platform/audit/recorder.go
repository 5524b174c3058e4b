package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"sitegate/pkg/requestcontext"
)

// Recorder builds entries from domain snapshots and fills actor, device and
// timestamp from the request context. Services hold a Recorder rather than a
// raw Store so snapshot marshaling stays in one place.
type Recorder struct {
	store Store
}

// NewRecorder wraps a Store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one entry for a mutation. oldSnapshot may be nil for creates;
// newSnapshot may be nil for purely logical transitions recorded elsewhere.
func (r *Recorder) Record(ctx context.Context, table, recordID, action string, oldSnapshot, newSnapshot any) error {
	oldJSON, err := marshalSnapshot(oldSnapshot)
	if err != nil {
		return fmt.Errorf("marshal old snapshot: %w", err)
	}
	newJSON, err := marshalSnapshot(newSnapshot)
	if err != nil {
		return fmt.Errorf("marshal new snapshot: %w", err)
	}

	entry := Entry{
		ID:          uuid.New(),
		Table:       table,
		RecordID:    recordID,
		Action:      action,
		OldSnapshot: oldJSON,
		NewSnapshot: newJSON,
		Actor:       requestcontext.Actor(ctx),
		Device:      requestcontext.Device(ctx).String(),
		Timestamp:   requestcontext.Now(ctx),
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
