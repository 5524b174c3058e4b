package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitegate/pkg/platform/audit"
)

type recordingSink struct {
	ids     []uuid.UUID
	entries []audit.Entry
}

func (s *recordingSink) AppendWithID(_ context.Context, entryID uuid.UUID, entry audit.Entry) error {
	s.ids = append(s.ids, entryID)
	s.entries = append(s.entries, entry)
	return nil
}

func TestLoopbackPublish(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	loopback := NewLoopback(sink)

	entryID := uuid.New()
	ts := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(map[string]any{
		"ID":          entryID.String(),
		"Table":       "projects",
		"RecordID":    uuid.NewString(),
		"Action":      "project_created",
		"NewSnapshot": json.RawMessage(`{"name":"Flatiron Tower"}`),
		"Actor":       "admin@hq",
		"Timestamp":   ts.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	require.NoError(t, loopback.Publish(ctx, "projects", payload))
	require.Len(t, sink.entries, 1)
	assert.Equal(t, entryID, sink.ids[0])
	assert.Equal(t, "projects", sink.entries[0].Table)
	assert.Equal(t, "project_created", sink.entries[0].Action)
	assert.Equal(t, "admin@hq", sink.entries[0].Actor)
	assert.True(t, ts.Equal(sink.entries[0].Timestamp))
}

func TestLoopbackPublish_BadPayload(t *testing.T) {
	sink := &recordingSink{}
	loopback := NewLoopback(sink)

	err := loopback.Publish(context.Background(), "projects", []byte("not json"))
	require.Error(t, err)
	assert.Empty(t, sink.entries)
}
