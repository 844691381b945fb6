// Package sqlite is a single-file ticket store on the pure Go SQLite driver.
// It backs local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Destination stores tickets in a SQLite table.
type Destination struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

var (
	_ sink.Backend     = (*Destination)(nil)
	_ sink.Provisioner = (*Destination)(nil)
)

// Open opens the database at path (":memory:" for a private in-memory one).
func Open(path, table string, logger *zap.Logger) (*Destination, error) {
	if path == "" || table == "" {
		return nil, deskerrors.New(deskerrors.ErrorTypeConfig, "sqlite path and table are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to open database")
	}
	// Single writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return &Destination{
		db:     db,
		table:  quote(table),
		logger: logger.With(zap.String("component", "sqlite"), zap.String("table", table)),
	}, nil
}

// EnsureTable creates the tickets table.
func (d *Destination) EnsureTable(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, CreateTableSQL(d.table)); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeSink, "failed to create table")
	}
	return nil
}

// Insert writes tickets in one transaction. A failing row is reported and
// the others still commit.
func (d *Destination) Insert(ctx context.Context, tickets []*models.Ticket) ([]sink.RowError, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, InsertSQL(d.table))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var rowErrs []sink.RowError
	for _, t := range tickets {
		args, err := args(t, models.TicketSchema.ColumnNames())
		if err == nil {
			_, err = stmt.ExecContext(ctx, args...)
		}
		if err != nil {
			rowErrs = append(rowErrs, sink.RowError{TicketID: t.ID, Err: err})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rowErrs, nil
}

// ExistingIDs returns the ids already present in the table.
func (d *Destination) ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	params := make([]interface{}, len(ids))
	for i, id := range ids {
		params[i] = id
	}
	rows, err := d.db.QueryContext(ctx, ExistsSQL(d.table, len(ids)), params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Update rewrites the ticket unless the stored version is newer.
func (d *Destination) Update(ctx context.Context, t *models.Ticket) error {
	cols := updateColumns()
	values, err := args(t, cols)
	if err != nil {
		return err
	}
	// The WHERE clause binds ticket_id and updated_at again
	values = append(values, t.ID, formatTime(t.UpdatedAt))

	res, err := d.db.ExecContext(ctx, UpdateSQL(d.table), values...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		d.logger.Debug("stored version is newer, update skipped", zap.Int64("ticket_id", t.ID))
	}
	return nil
}

// Get reads one ticket back. Comments are not decoded.
func (d *Destination) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	row := d.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT ticket_id, subject, status, tags, updated_at, ingested_at FROM %s WHERE ticket_id = ?", d.table), id)

	var (
		t                   models.Ticket
		tags                string
		updated, ingestedAt string
	)
	if err := row.Scan(&t.ID, &t.Subject, &t.Status, &tags, &updated, &ingestedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, err
	}
	var err error
	if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, err
	}
	if t.IngestedAt, err = time.Parse(timeLayout, ingestedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// Count returns the number of stored rows.
func (d *Destination) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT count(*) FROM "+d.table).Scan(&n)
	return n, err
}

// Close closes the database.
func (d *Destination) Close() error {
	return d.db.Close()
}

// CreateTableSQL is the DDL of the tickets table. Timestamps are fixed
// width UTC text and tags a JSON array.
func CreateTableSQL(table string) string {
	fields := models.TicketSchema.Fields
	defs := make([]string, len(fields))
	for i, f := range fields {
		def := f.Name + " " + columnType(f)
		if f.Name == models.ColumnTicketID {
			def += " PRIMARY KEY"
		} else if f.Required || f.Repeated {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(defs, ",\n  "))
}

// InsertSQL inserts one row and leaves an existing row alone.
func InsertSQL(table string) string {
	cols := models.TicketSchema.ColumnNames()
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO NOTHING",
		table, strings.Join(cols, ", "), placeholders(len(cols)), models.ColumnTicketID)
}

// ExistsSQL selects the stored subset of n ids.
func ExistsSQL(table string, n int) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		models.ColumnTicketID, table, models.ColumnTicketID, placeholders(n))
}

// UpdateSQL binds the mutable columns, then ticket_id and updated_at.
func UpdateSQL(table string) string {
	cols := updateColumns()
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? AND %s <= ?",
		table, strings.Join(set, ", "), models.ColumnTicketID, models.ColumnUpdatedAt)
}

func updateColumns() []string {
	return models.TicketSchema.MutableColumns()
}

func args(t *models.Ticket, cols []string) ([]interface{}, error) {
	comments, err := t.CommentsJSON()
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeData, "failed to encode comments")
	}
	tags, err := json.Marshal(t.TagsOrEmpty())
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeData, "failed to encode tags")
	}

	values := map[string]interface{}{
		models.ColumnTicketID:       t.ID,
		models.ColumnSubject:        t.Subject,
		models.ColumnDescription:    t.Description,
		models.ColumnCommentsJSON:   comments,
		models.ColumnCreatedAt:      formatTime(t.CreatedAt),
		models.ColumnUpdatedAt:      formatTime(t.UpdatedAt),
		models.ColumnTags:           string(tags),
		models.ColumnChannel:        t.Channel,
		models.ColumnAssigneeID:     t.AssigneeID,
		models.ColumnStatus:         t.Status,
		models.ColumnPriority:       t.Priority,
		models.ColumnRequesterEmail: t.RequesterEmail,
		models.ColumnIngestedAt:     formatTime(t.IngestedAt),
	}
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		out[i] = values[c]
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func columnType(f models.Field) string {
	if f.Repeated {
		return "TEXT"
	}
	switch f.Type {
	case models.FieldTypeInteger:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
