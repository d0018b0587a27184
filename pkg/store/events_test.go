package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendJobEventAssignsMonotonicIDs(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()

	first, err := s.AppendJobEvent(ctx, "job_1", "submitted", map[string]any{"type": "research"})
	require.NoError(t, err)
	second, err := s.AppendJobEvent(ctx, "job_1", "status_changed", map[string]any{"status": "running"})
	require.NoError(t, err)

	assert.Less(t, first.ID, second.ID)
	assert.Equal(t, "job_1", first.JobID)
}

func TestGetJobEventsFiltersBySinceID(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()

	first, err := s.AppendJobEvent(ctx, "job_1", "submitted", nil)
	require.NoError(t, err)
	_, err = s.AppendJobEvent(ctx, "job_1", "status_changed", nil)
	require.NoError(t, err)

	out, err := s.GetJobEvents(ctx, "job_1", first.ID, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "status_changed", out[0].EventType)
}

func TestGetJobEventsRespectsLimit(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.AppendJobEvent(ctx, "job_1", "status_changed", nil)
		require.NoError(t, err)
	}
	out, err := s.GetJobEvents(ctx, "job_1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestGetJobEventsUnknownJobReturnsEmpty(t *testing.T) {
	s := newInMemoryStore(t)
	out, err := s.GetJobEvents(context.Background(), "job_nonexistent", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}
