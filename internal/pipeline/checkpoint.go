package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/checkpoint"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/metrics"
	"github.com/guregu/null"
)

// loadCheckpoint returns nil when nothing was saved under key.
func loadCheckpoint(ctx context.Context, store checkpoint.Store, key string) (*checkpoint.Checkpoint, error) {
	cp, err := store.Load(ctx, key)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to load checkpoint").
			WithDetail("key", key)
	}
	return cp, nil
}

func saveCheckpoint(ctx context.Context, store checkpoint.Store, key string, cp *checkpoint.Checkpoint) error {
	if err := store.Save(ctx, key, cp); err != nil {
		metrics.CheckpointSaves.WithLabelValues(key, "error").Inc()
		return deskerrors.Wrap(err, deskerrors.ErrorTypeCheckpoint, "failed to save checkpoint").
			WithDetail("key", key)
	}
	metrics.CheckpointSaves.WithLabelValues(key, "ok").Inc()
	return nil
}

// positionOf returns the stream position a checkpoint resumes from. ok is
// false when the checkpoint names no page.
func positionOf(cp *checkpoint.Checkpoint) (pos zendesk.Position, ok bool) {
	if cp == nil {
		return pos, false
	}
	switch {
	case cp.Cursor.Valid && cp.Cursor.String != "":
		pos.Cursor = zendesk.Cursor(cp.Cursor.String)
	case cp.StartTime != nil:
		pos.StartTime = cp.StartTime.UTC()
	default:
		return pos, false
	}
	pos.Offset = cp.PageOffset
	return pos, true
}

// checkpointAt records pos. The start time is kept only while no cursor
// has been issued.
func checkpointAt(pos zendesk.Position, now time.Time) *checkpoint.Checkpoint {
	cp := &checkpoint.Checkpoint{
		Cursor:      null.NewString(string(pos.Cursor), pos.Cursor != ""),
		PageOffset:  pos.Offset,
		LastUpdated: now.UTC(),
	}
	if pos.Cursor == "" && !pos.StartTime.IsZero() {
		start := pos.StartTime.UTC()
		cp.StartTime = &start
	}
	return cp
}

func samePosition(a, b zendesk.Position) bool {
	return a.SamePage(b) && a.Offset == b.Offset
}
