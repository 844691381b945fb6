// Package bigquery is the BigQuery ticket store.
//
// New tickets are streamed with the table Inserter. Changed tickets are
// rewritten with a parameterized MERGE that only matches when the stored
// updated_at is not newer than the incoming one.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Config locates the tickets table.
type Config struct {
	ProjectID       string
	Dataset         string
	Table           string
	Location        string
	CredentialsFile string
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return deskerrors.New(deskerrors.ErrorTypeConfig, "bigquery project id is required")
	}
	if c.Dataset == "" || c.Table == "" {
		return deskerrors.New(deskerrors.ErrorTypeConfig, "bigquery dataset and table are required")
	}
	return nil
}

// TableRef returns the fully qualified, backquoted table name.
func (c Config) TableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", c.ProjectID, c.Dataset, c.Table)
}

// Destination stores tickets in a BigQuery table.
type Destination struct {
	cfg      Config
	client   *bigquery.Client
	dataset  *bigquery.Dataset
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   *zap.Logger
}

var (
	_ sink.Backend     = (*Destination)(nil)
	_ sink.Provisioner = (*Destination)(nil)
)

// New creates the BigQuery client. No request is made until the first call.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Destination, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to create BigQuery client")
	}
	client.Location = cfg.Location

	dataset := client.Dataset(cfg.Dataset)
	table := dataset.Table(cfg.Table)
	inserter := table.Inserter()
	// Valid rows land even when others in the same request are rejected
	inserter.SkipInvalidRows = true

	return &Destination{
		cfg:      cfg,
		client:   client,
		dataset:  dataset,
		table:    table,
		inserter: inserter,
		logger: logger.With(
			zap.String("component", "bigquery"),
			zap.String("table", cfg.TableRef())),
	}, nil
}

// EnsureTable creates the dataset and the day-partitioned tickets table
// when they do not exist.
func (d *Destination) EnsureTable(ctx context.Context) error {
	if _, err := d.dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to read dataset")
		}
		if err := d.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: d.cfg.Location}); err != nil {
			return deskerrors.Wrap(err, deskerrors.ErrorTypeSink, "failed to create dataset")
		}
		d.logger.Info("created dataset", zap.String("dataset", d.cfg.Dataset))
	}

	if _, err := d.table.Metadata(ctx); err == nil {
		d.logger.Info("table already exists")
		return nil
	} else if !isNotFound(err) {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to read table")
	}

	if err := d.table.Create(ctx, TableMetadata(models.TicketSchema)); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeSink, "failed to create table")
	}
	d.logger.Info("created table")
	return nil
}

// Insert streams tickets into the table.
func (d *Destination) Insert(ctx context.Context, tickets []*models.Ticket) ([]sink.RowError, error) {
	rows := make([]bigquery.ValueSaver, len(tickets))
	for i, t := range tickets {
		rows[i] = ticketRow{t}
	}
	return rowErrors(tickets, d.inserter.Put(ctx, rows))
}

// ExistingIDs returns the ids already present in the table.
func (d *Destination) ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	q := d.client.Query(ExistsSQL(d.cfg.TableRef()))
	q.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	for {
		var row struct {
			TicketID int64 `bigquery:"ticket_id"`
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out[row.TicketID] = struct{}{}
	}
	return out, nil
}

// Update merges one ticket into the table.
func (d *Destination) Update(ctx context.Context, t *models.Ticket) error {
	params, err := UpdateParams(t)
	if err != nil {
		return err
	}

	q := d.client.Query(MergeSQL(d.cfg.TableRef()))
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// Close closes the client.
func (d *Destination) Close() error {
	return d.client.Close()
}

// InsertID deduplicates streaming retries of the same ticket version.
func InsertID(t *models.Ticket) string {
	return fmt.Sprintf("%d-%d", t.ID, t.UpdatedAt.UnixNano())
}

// ExistsSQL selects the stored subset of @ids.
func ExistsSQL(table string) string {
	return "SELECT ticket_id FROM " + table + " WHERE ticket_id IN UNNEST(@ids)"
}

// MergeSQL rewrites the mutable columns of @ticket_id unless the stored row
// is newer.
func MergeSQL(table string) string {
	cols := models.TicketSchema.MutableColumns()
	set := make([]string, len(cols))
	for i, c := range cols {
		if c == models.ColumnCommentsJSON {
			set[i] = fmt.Sprintf("%s = PARSE_JSON(@%s)", c, c)
			continue
		}
		set[i] = fmt.Sprintf("%s = @%s", c, c)
	}

	var b strings.Builder
	b.WriteString("MERGE " + table + " T\n")
	b.WriteString("USING (SELECT @ticket_id AS ticket_id) S\n")
	b.WriteString("ON T.ticket_id = S.ticket_id\n")
	b.WriteString("WHEN MATCHED AND T.updated_at <= @updated_at THEN\n")
	b.WriteString("  UPDATE SET " + strings.Join(set, ", "))
	return b.String()
}

// UpdateParams binds a ticket to the MERGE statement.
func UpdateParams(t *models.Ticket) ([]bigquery.QueryParameter, error) {
	row, err := rowValues(t)
	if err != nil {
		return nil, err
	}

	params := []bigquery.QueryParameter{{Name: models.ColumnTicketID, Value: t.ID}}
	for _, c := range models.TicketSchema.MutableColumns() {
		params = append(params, bigquery.QueryParameter{Name: c, Value: queryValue(row[c])})
	}
	return params, nil
}

// Schema converts a table schema to its BigQuery form.
func Schema(s models.Schema) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, &bigquery.FieldSchema{
			Name:        f.Name,
			Type:        fieldType(f.Type),
			Required:    f.Required,
			Repeated:    f.Repeated,
			Description: f.Description,
		})
	}
	return out
}

// TableMetadata describes the tickets table, partitioned by day on created_at.
func TableMetadata(s models.Schema) *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Schema: Schema(s),
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: models.ColumnCreatedAt,
		},
		Clustering: &bigquery.Clustering{Fields: []string{models.ColumnTicketID}},
	}
}

func fieldType(t string) bigquery.FieldType {
	switch t {
	case models.FieldTypeInteger:
		return bigquery.IntegerFieldType
	case models.FieldTypeTimestamp:
		return bigquery.TimestampFieldType
	case models.FieldTypeJSON:
		return bigquery.JSONFieldType
	default:
		return bigquery.StringFieldType
	}
}

// ticketRow is the streaming insert form of a ticket.
type ticketRow struct {
	t *models.Ticket
}

func (r ticketRow) Save() (map[string]bigquery.Value, string, error) {
	row, err := rowValues(r.t)
	if err != nil {
		return nil, "", err
	}
	return row, InsertID(r.t), nil
}

func rowValues(t *models.Ticket) (map[string]bigquery.Value, error) {
	comments, err := t.CommentsJSON()
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeData, "failed to encode comments").
			WithDetail("ticket_id", t.ID)
	}

	return map[string]bigquery.Value{
		models.ColumnTicketID:       t.ID,
		models.ColumnSubject:        t.Subject.Ptr(),
		models.ColumnDescription:    t.Description.Ptr(),
		models.ColumnCommentsJSON:   comments,
		models.ColumnCreatedAt:      t.CreatedAt,
		models.ColumnUpdatedAt:      t.UpdatedAt,
		models.ColumnTags:           t.TagsOrEmpty(),
		models.ColumnChannel:        t.Channel.Ptr(),
		models.ColumnAssigneeID:     t.AssigneeID.Ptr(),
		models.ColumnStatus:         t.Status.Ptr(),
		models.ColumnPriority:       t.Priority.Ptr(),
		models.ColumnRequesterEmail: t.RequesterEmail.Ptr(),
		models.ColumnIngestedAt:     t.IngestedAt,
	}, nil
}

// queryValue turns optional row values into typed NULL parameters.
func queryValue(v bigquery.Value) interface{} {
	switch p := v.(type) {
	case *string:
		if p == nil {
			return bigquery.NullString{}
		}
		return bigquery.NullString{StringVal: *p, Valid: true}
	case *int64:
		if p == nil {
			return bigquery.NullInt64{}
		}
		return bigquery.NullInt64{Int64: *p, Valid: true}
	default:
		return v
	}
}

// rowErrors maps a Put error onto the batch. Anything other than a
// PutMultiError is a call-level failure.
func rowErrors(tickets []*models.Ticket, err error) ([]sink.RowError, error) {
	if err == nil {
		return nil, nil
	}

	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) {
		return nil, err
	}

	out := make([]sink.RowError, 0, len(multi))
	for _, rie := range multi {
		if rie.RowIndex < 0 || rie.RowIndex >= len(tickets) {
			return nil, err
		}
		out = append(out, sink.RowError{TicketID: tickets[rie.RowIndex].ID, Err: rie.Errors})
	}
	return out, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
