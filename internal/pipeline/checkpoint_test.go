package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/checkpoint"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var savedAt = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func TestCheckpointAt(t *testing.T) {
	t.Run("cursor", func(t *testing.T) {
		cp := checkpointAt(zendesk.Position{Cursor: "abc", StartTime: savedAt, Offset: 7}, savedAt)
		assert.Equal(t, null.StringFrom("abc"), cp.Cursor)
		assert.Nil(t, cp.StartTime)
		assert.Equal(t, 7, cp.PageOffset)
		assert.Equal(t, savedAt, cp.LastUpdated)
	})

	t.Run("start time", func(t *testing.T) {
		start := savedAt.Add(-time.Hour)
		cp := checkpointAt(zendesk.Position{StartTime: start, Offset: 2}, savedAt)
		assert.False(t, cp.Cursor.Valid)
		require.NotNil(t, cp.StartTime)
		assert.True(t, cp.StartTime.Equal(start))
	})
}

func TestPositionRoundTrip(t *testing.T) {
	positions := []zendesk.Position{
		{Cursor: "c100"},
		{Cursor: "c100", Offset: 50},
		{StartTime: savedAt.Add(-24 * time.Hour), Offset: 3},
	}
	for _, pos := range positions {
		got, ok := positionOf(checkpointAt(pos, savedAt))
		require.True(t, ok)
		assert.True(t, samePosition(pos, got), "%s != %s", pos, got)
	}

	_, ok := positionOf(nil)
	assert.False(t, ok)
	_, ok = positionOf(&checkpoint.Checkpoint{Cursor: null.StringFrom("")})
	assert.False(t, ok)
}

type brokenStore struct{ checkpoint.Store }

func (brokenStore) Load(context.Context, string) (*checkpoint.Checkpoint, error) {
	return nil, assert.AnError
}

func TestLoadCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)

	cp, err := loadCheckpoint(ctx, store, "missing")
	require.NoError(t, err)
	assert.Nil(t, cp)

	_, err = loadCheckpoint(ctx, brokenStore{}, "any")
	require.Error(t, err)
	assert.True(t, deskerrors.IsType(err, deskerrors.ErrorTypeCheckpoint))
}
