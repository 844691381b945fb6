package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/checkpoint"
	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"github.com/ajitpratap0/deskstream/pkg/testutil"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runNow puts every generated ticket inside the default 24h window.
var runNow = testutil.BaseTime.Add(12 * time.Hour)

func newIncremental(t *testing.T, api *testutil.TicketAPI, mem *sink.MemoryBackend) (*Incremental, *recordingStore) {
	t.Helper()
	store := newRecordingStore(t)
	clock := testutil.NewFakeClock(runNow)
	inc := NewIncremental(config.Default().Incremental, apiSource(api, clock), sink.NewAdapter(mem, nil, nil), store, nil)
	inc.now = func() time.Time { return runNow }
	return inc, store
}

func TestIncrementalFirstRun(t *testing.T) {
	api := testutil.NewTicketAPI(t, 120, 100)
	mem := sink.NewMemoryBackend()
	inc, store := newIncremental(t, api, mem)

	report, err := inc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, int64(120), report.Inserted)
	assert.Zero(t, report.Updated)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 120, mem.Len())

	first := api.StreamRequests()[0]
	assert.Equal(t, "1709240400", first.Get("start_time"))

	saves := store.Saves()
	require.Len(t, saves, 1, "checkpoint is saved once per run")
	assert.Equal(t, "c120", saves[0].Cursor.String)
	require.NotNil(t, saves[0].LastRun)
	assert.True(t, saves[0].LastRun.Equal(runNow))
	assert.Nil(t, saves[0].ItemsProcessed)
}

func TestIncrementalPicksUpChanges(t *testing.T) {
	api := testutil.NewTicketAPI(t, 120, 100)
	mem := sink.NewMemoryBackend()
	inc, store := newIncremental(t, api, mem)
	ctx := context.Background()

	_, err := inc.Run(ctx)
	require.NoError(t, err)

	later := testutil.BaseTime.Add(6 * time.Hour)
	api.Touch(3, later)
	api.Touch(7, later)
	api.Touch(121, later)

	report, err := inc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Inserted)
	assert.Equal(t, int64(2), report.Updated)
	assert.Equal(t, zendesk.Cursor("c120"), report.ResumedFrom.Cursor)

	stored, ok := mem.Get(3)
	require.True(t, ok)
	assert.True(t, stored.UpdatedAt.Equal(later))
	assert.Equal(t, 121, mem.Len())
	assert.Len(t, store.Saves(), 2)
}

func TestIncrementalRerunIsIdempotent(t *testing.T) {
	api := testutil.NewTicketAPI(t, 60, 100)
	mem := sink.NewMemoryBackend()
	inc, _ := newIncremental(t, api, mem)
	ctx := context.Background()

	_, err := inc.Run(ctx)
	require.NoError(t, err)
	before, _ := mem.Get(10)

	// A fresh orchestrator without checkpoint rescans the same window
	again, _ := newIncremental(t, api, mem)
	report, err := again.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Inserted)
	assert.Equal(t, int64(60), report.Updated)
	assert.Equal(t, 60, mem.Len())

	after, _ := mem.Get(10)
	assert.Equal(t, before.Subject, after.Subject)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestIncrementalWithoutCursorResumesFromLastRun(t *testing.T) {
	api := testutil.NewTicketAPI(t, 3, 100)
	api.ServeLatestOnly()
	mem := sink.NewMemoryBackend()
	inc, store := newIncremental(t, api, mem)
	ctx := context.Background()

	report, err := inc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Inserted)

	saves := store.Saves()
	require.Len(t, saves, 1)
	assert.False(t, saves[0].Cursor.Valid)
	assert.Nil(t, saves[0].StartTime)
	assert.Zero(t, saves[0].PageOffset)
	require.NotNil(t, saves[0].LastRun)
	assert.True(t, saves[0].LastRun.Equal(runNow))

	// Ticket 1 moves behind 2 and 3, so an offset into the old window would
	// land past it
	later := runNow.Add(time.Hour)
	api.Touch(1, later)
	api.Touch(4, later)
	inc.now = func() time.Time { return runNow.Add(2 * time.Hour) }

	report, err = inc.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.ResumedFrom.StartTime.Equal(runNow))
	assert.Zero(t, report.ResumedFrom.Offset)
	assert.Equal(t, int64(1), report.Inserted)
	assert.Equal(t, int64(1), report.Updated)

	stored, ok := mem.Get(1)
	require.True(t, ok)
	assert.True(t, stored.UpdatedAt.Equal(later))
	assert.Equal(t, 4, mem.Len())
}

func TestIncrementalFailureSavesNothing(t *testing.T) {
	api := testutil.NewTicketAPI(t, 120, 50)
	api.FailStream(1, http.StatusBadGateway, 0)
	mem := sink.NewMemoryBackend()
	inc, store := newIncremental(t, api, mem)
	ctx := context.Background()

	report, err := inc.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, StatusFailed, inc.State())
	assert.Empty(t, store.Saves())
	assert.Equal(t, 50, mem.Len(), "the first batch was already upserted")

	api.FailStream(-1, 0, 0)
	report, err = inc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(70), report.Inserted)
	assert.Equal(t, int64(50), report.Updated)
	assert.Equal(t, 120, mem.Len())
	assert.Len(t, store.Saves(), 1)
}

func TestIncrementalExistenceFailure(t *testing.T) {
	api := testutil.NewTicketAPI(t, 10, 100)
	mem := sink.NewMemoryBackend()
	mem.ExistsErr = assert.AnError
	inc, store := newIncremental(t, api, mem)

	_, err := inc.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.Saves())
}

func TestIncrementalStartPosition(t *testing.T) {
	inc := NewIncremental(config.IncrementalConfig{}, nil, nil, nil, nil)
	inc.now = func() time.Time { return runNow }
	lastRun := runNow.Add(-time.Hour)
	start := runNow.Add(-3 * time.Hour)

	tests := []struct {
		name string
		cp   *checkpoint.Checkpoint
		want zendesk.Position
	}{
		{
			name: "no checkpoint",
			want: zendesk.Position{StartTime: runNow.Add(-24 * time.Hour)},
		},
		{
			name: "cursor",
			cp:   &checkpoint.Checkpoint{Cursor: null.StringFrom("c9"), PageOffset: 3, LastRun: &lastRun},
			want: zendesk.Position{Cursor: "c9", Offset: 3},
		},
		{
			name: "last run only",
			cp:   &checkpoint.Checkpoint{LastRun: &lastRun},
			want: zendesk.Position{StartTime: lastRun},
		},
		{
			name: "start time and offset are not resumed",
			cp:   &checkpoint.Checkpoint{StartTime: &start, PageOffset: 4, LastRun: &lastRun},
			want: zendesk.Position{StartTime: lastRun},
		},
		{
			name: "start time without last run uses the window",
			cp:   &checkpoint.Checkpoint{StartTime: &start, PageOffset: 4},
			want: zendesk.Position{StartTime: runNow.Add(-24 * time.Hour)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inc.startPosition(tt.cp)
			assert.True(t, samePosition(tt.want, got), "want %s, got %s", tt.want, got)
		})
	}
}
