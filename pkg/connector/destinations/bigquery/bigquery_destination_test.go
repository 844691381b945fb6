package bigquery

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var updated = time.Date(2024, 3, 2, 10, 30, 0, 0, time.UTC)

func testTicket() *models.Ticket {
	return &models.Ticket{
		ID:         42,
		Subject:    null.StringFrom("Printer on fire"),
		Status:     null.StringFrom("open"),
		AssigneeID: null.IntFrom(7),
		CreatedAt:  updated.Add(-time.Hour),
		UpdatedAt:  updated,
		Tags:       []string{"hardware"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{name: "valid", config: Config{ProjectID: "p", Dataset: "raw", Table: "tickets"}},
		{name: "missing project", config: Config{Dataset: "raw", Table: "tickets"}, wantError: true},
		{name: "missing table", config: Config{ProjectID: "p", Dataset: "raw"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, deskerrors.IsType(err, deskerrors.ErrorTypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTableRef(t *testing.T) {
	cfg := Config{ProjectID: "acme", Dataset: "raw", Table: "tickets"}
	assert.Equal(t, "`acme.raw.tickets`", cfg.TableRef())
}

func TestInsertIDTracksVersion(t *testing.T) {
	ticket := testTicket()
	first := InsertID(ticket)
	assert.Equal(t, "42-1709375400000000000", first)

	ticket.UpdatedAt = ticket.UpdatedAt.Add(time.Second)
	assert.NotEqual(t, first, InsertID(ticket))
}

func TestExistsSQL(t *testing.T) {
	assert.Equal(t,
		"SELECT ticket_id FROM `p.raw.tickets` WHERE ticket_id IN UNNEST(@ids)",
		ExistsSQL("`p.raw.tickets`"))
}

func TestMergeSQL(t *testing.T) {
	sql := MergeSQL("`p.raw.tickets`")

	assert.Contains(t, sql, "MERGE `p.raw.tickets` T")
	assert.Contains(t, sql, "WHEN MATCHED AND T.updated_at <= @updated_at THEN")
	assert.Contains(t, sql, "comments_json = PARSE_JSON(@comments_json)")
	assert.Contains(t, sql, "requester_email = @requester_email")
	assert.NotContains(t, sql, "created_at = ")
	assert.NotContains(t, sql, "WHEN NOT MATCHED")
}

func TestUpdateParams(t *testing.T) {
	params, err := UpdateParams(testTicket())
	require.NoError(t, err)

	byName := make(map[string]interface{}, len(params))
	for _, p := range params {
		byName[p.Name] = p.Value
	}

	assert.Len(t, params, 12)
	assert.Equal(t, int64(42), byName["ticket_id"])
	assert.Equal(t, bigquery.NullString{StringVal: "Printer on fire", Valid: true}, byName["subject"])
	assert.Equal(t, bigquery.NullString{}, byName["description"])
	assert.Equal(t, bigquery.NullInt64{Int64: 7, Valid: true}, byName["assignee_id"])
	assert.Equal(t, "[]", byName["comments_json"])
	assert.Equal(t, []string{"hardware"}, byName["tags"])
	assert.Equal(t, updated, byName["updated_at"])
}

func TestTicketRowSave(t *testing.T) {
	ticket := testTicket()
	ticket.Tags = nil

	row, insertID, err := ticketRow{ticket}.Save()
	require.NoError(t, err)

	assert.Equal(t, InsertID(ticket), insertID)
	assert.Len(t, row, len(models.TicketSchema.Fields))
	assert.Equal(t, []string{}, row["tags"])
	assert.Nil(t, row["description"].(*string))
	assert.Equal(t, "Printer on fire", *row["subject"].(*string))
}

func TestSchema(t *testing.T) {
	schema := Schema(models.TicketSchema)
	require.Len(t, schema, 13)

	assert.Equal(t, "ticket_id", schema[0].Name)
	assert.Equal(t, bigquery.IntegerFieldType, schema[0].Type)
	assert.True(t, schema[0].Required)

	fields := make(map[string]*bigquery.FieldSchema)
	for _, f := range schema {
		fields[f.Name] = f
	}
	assert.Equal(t, bigquery.JSONFieldType, fields["comments_json"].Type)
	assert.True(t, fields["tags"].Repeated)
	assert.Equal(t, bigquery.TimestampFieldType, fields["ingested_at"].Type)
	assert.False(t, fields["subject"].Required)
}

func TestTableMetadata(t *testing.T) {
	meta := TableMetadata(models.TicketSchema)
	require.NotNil(t, meta.TimePartitioning)
	assert.Equal(t, bigquery.DayPartitioningType, meta.TimePartitioning.Type)
	assert.Equal(t, "created_at", meta.TimePartitioning.Field)
	assert.Equal(t, []string{"ticket_id"}, meta.Clustering.Fields)
}

func TestRowErrors(t *testing.T) {
	tickets := []*models.Ticket{{ID: 10}, {ID: 11}, {ID: 12}}

	t.Run("nil", func(t *testing.T) {
		rowErrs, err := rowErrors(tickets, nil)
		assert.NoError(t, err)
		assert.Empty(t, rowErrs)
	})

	t.Run("per row", func(t *testing.T) {
		put := bigquery.PutMultiError{
			{RowIndex: 1, Errors: bigquery.MultiError{errors.New("no such field")}},
			{RowIndex: 2, Errors: bigquery.MultiError{errors.New("bad timestamp")}},
		}
		rowErrs, err := rowErrors(tickets, put)
		require.NoError(t, err)
		require.Len(t, rowErrs, 2)
		assert.Equal(t, int64(11), rowErrs[0].TicketID)
		assert.Equal(t, int64(12), rowErrs[1].TicketID)
		assert.Contains(t, rowErrs[1].Error(), "bad timestamp")
	})

	t.Run("call level", func(t *testing.T) {
		cause := errors.New("quota exceeded")
		rowErrs, err := rowErrors(tickets, cause)
		assert.Same(t, cause, err)
		assert.Nil(t, rowErrs)
	})

	t.Run("index out of range", func(t *testing.T) {
		put := bigquery.PutMultiError{{RowIndex: 9}}
		_, err := rowErrors(tickets, put)
		assert.Error(t, err)
	})
}
