package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) *Destination {
	t.Helper()
	dest, err := Open(":memory:", "raw_tickets", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dest.Close() })
	require.NoError(t, dest.EnsureTable(context.Background()))
	return dest
}

func version(id int64, offset time.Duration, subject string) *models.Ticket {
	return &models.Ticket{
		ID:        id,
		Subject:   null.StringFrom(subject),
		Status:    null.StringFrom("open"),
		Tags:      []string{"imported"},
		CreatedAt: base,
		UpdatedAt: base.Add(offset),
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	dest := openMemory(t)
	adapter := sink.NewAdapter(dest, nil, func() time.Time { return base })
	ctx := context.Background()

	batch := func() []*models.Ticket {
		return []*models.Ticket{version(1, 0, "a"), version(2, 0, "b"), version(3, 0, "c")}
	}

	first, err := adapter.UpsertBatch(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, sink.UpsertResult{Inserted: 3}, first)

	second, err := adapter.UpsertBatch(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, sink.UpsertResult{Updated: 3}, second)

	count, err := dest.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUpsertPartitioning(t *testing.T) {
	dest := openMemory(t)
	adapter := sink.NewAdapter(dest, nil, nil)
	ctx := context.Background()

	_, err := adapter.UpsertBatch(ctx, []*models.Ticket{version(2, 0, "old"), version(4, 0, "old")})
	require.NoError(t, err)

	var tickets []*models.Ticket
	for id := int64(1); id <= 5; id++ {
		tickets = append(tickets, version(id, time.Hour, "new"))
	}
	result, err := adapter.UpsertBatch(ctx, tickets)
	require.NoError(t, err)
	assert.Equal(t, sink.UpsertResult{Inserted: 3, Updated: 2}, result)

	stored, err := dest.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Subject.String)
	assert.True(t, stored.UpdatedAt.Equal(base.Add(time.Hour)))
}

func TestUpdateKeepsNewerVersion(t *testing.T) {
	dest := openMemory(t)
	ctx := context.Background()

	_, err := dest.Insert(ctx, []*models.Ticket{version(1, time.Hour, "newer")})
	require.NoError(t, err)

	require.NoError(t, dest.Update(ctx, version(1, 0, "older")))
	stored, err := dest.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "newer", stored.Subject.String)

	// Sub-second precision still orders correctly
	require.NoError(t, dest.Update(ctx, version(1, time.Hour+500*time.Millisecond, "newest")))
	stored, err = dest.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "newest", stored.Subject.String)
	assert.Equal(t, []string{"imported"}, stored.Tags)
}

func TestInsertKeepsExistingRow(t *testing.T) {
	dest := openMemory(t)
	ctx := context.Background()

	_, err := dest.Insert(ctx, []*models.Ticket{version(1, 0, "first")})
	require.NoError(t, err)
	rowErrs, err := dest.Insert(ctx, []*models.Ticket{version(1, time.Hour, "second")})
	require.NoError(t, err)
	assert.Empty(t, rowErrs)

	stored, err := dest.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Subject.String)
}

func TestInsertReportsRowErrors(t *testing.T) {
	dest, err := Open(":memory:", "raw_tickets", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dest.Close() })
	ctx := context.Background()

	// A stricter table than EnsureTable creates, to force a row rejection
	ddl := CreateTableSQL(dest.table)
	ddl = ddl[:len(ddl)-2] + ",\n  CHECK (ticket_id < 1000)\n)"
	_, err = dest.db.ExecContext(ctx, ddl)
	require.NoError(t, err)
	require.NoError(t, dest.EnsureTable(ctx))

	rowErrs, err := dest.Insert(ctx, []*models.Ticket{version(1, 0, "ok"), version(5000, 0, "bad"), version(2, 0, "ok")})
	require.NoError(t, err)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, int64(5000), rowErrs[0].TicketID)

	count, err := dest.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestExistingIDs(t *testing.T) {
	dest := openMemory(t)
	ctx := context.Background()

	_, err := dest.Insert(ctx, []*models.Ticket{version(10, 0, "a"), version(30, 0, "c")})
	require.NoError(t, err)

	got, err := dest.ExistingIDs(ctx, []int64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{10: {}, 30: {}}, got)

	got, err = dest.ExistingIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")
	ctx := context.Background()

	dest, err := Open(path, "raw_tickets", nil)
	require.NoError(t, err)
	require.NoError(t, dest.EnsureTable(ctx))
	_, err = dest.Insert(ctx, []*models.Ticket{version(1, 0, "persisted")})
	require.NoError(t, err)
	require.NoError(t, dest.Close())

	reopened, err := Open(path, "raw_tickets", nil)
	require.NoError(t, err)
	defer reopened.Close()
	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQL(t *testing.T) {
	assert.Equal(t, `SELECT ticket_id FROM t WHERE ticket_id IN (?, ?, ?)`, ExistsSQL("t", 3))
	assert.Contains(t, InsertSQL("t"), "ON CONFLICT(ticket_id) DO NOTHING")
	assert.Contains(t, UpdateSQL("t"), "WHERE ticket_id = ? AND updated_at <= ?")
	assert.Contains(t, CreateTableSQL(`"t"`), "ticket_id INTEGER PRIMARY KEY")
	assert.Equal(t, `"we""ird"`, quote(`we"ird`))
	assert.Equal(t, "2024-03-01T09:00:00.000000000Z", formatTime(base))
	assert.Len(t, updateColumns(), 11)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", "raw_tickets", nil)
	assert.Error(t, err)
}
