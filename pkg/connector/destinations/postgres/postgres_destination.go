// Package postgres is the PostgreSQL ticket store, built on a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config configures the pool and target table.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

// Destination stores tickets in a PostgreSQL table.
type Destination struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

var (
	_ sink.Backend     = (*Destination)(nil)
	_ sink.Provisioner = (*Destination)(nil)
)

// New opens the pool and checks connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Destination, error) {
	if cfg.DSN == "" {
		return nil, deskerrors.New(deskerrors.ErrorTypeConfig, "postgres dsn is required")
	}
	if cfg.Table == "" {
		return nil, deskerrors.New(deskerrors.ErrorTypeConfig, "postgres table is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "failed to parse connection string")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "failed to reach postgres")
	}

	table := pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize()
	logger.Info("Connected to PostgreSQL",
		zap.String("table", table),
		zap.Int32("max_connections", poolConfig.MaxConns))

	return &Destination{
		pool:   pool,
		table:  table,
		logger: logger.With(zap.String("component", "postgres"), zap.String("table", table)),
	}, nil
}

// EnsureTable creates the tickets table.
func (d *Destination) EnsureTable(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, CreateTableSQL(d.table)); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeSink, "failed to create table")
	}
	d.logger.Info("table ready")
	return nil
}

// Insert pipelines one INSERT per ticket. The batch runs as one implicit
// transaction, so any failing statement fails the whole call.
func (d *Destination) Insert(ctx context.Context, tickets []*models.Ticket) ([]sink.RowError, error) {
	query := InsertSQL(d.table)
	batch := &pgx.Batch{}
	cols := InsertColumns()
	for _, t := range tickets {
		args, err := Args(t, cols)
		if err != nil {
			return nil, err
		}
		batch.Queue(query, args...)
	}

	br := d.pool.SendBatch(ctx, batch)
	for _, t := range tickets {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("insert ticket %d: %w", t.ID, err)
		}
	}
	return nil, br.Close()
}

// ExistingIDs returns the ids already present in the table.
func (d *Destination) ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := d.pool.Query(ctx, ExistsSQL(d.table), ids)
	if err != nil {
		return nil, err
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

// Update rewrites the ticket unless the stored version is newer.
func (d *Destination) Update(ctx context.Context, t *models.Ticket) error {
	args, err := Args(t, UpdateColumns())
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx, UpdateSQL(d.table), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		d.logger.Debug("stored version is newer, update skipped", zap.Int64("ticket_id", t.ID))
	}
	return nil
}

// Close closes the pool.
func (d *Destination) Close() error {
	d.pool.Close()
	return nil
}

// Args returns the values of cols for t.
func Args(t *models.Ticket, cols []string) ([]interface{}, error) {
	comments, err := t.CommentsJSON()
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeData, "failed to encode comments").
			WithDetail("ticket_id", t.ID)
	}
	values := map[string]interface{}{
		models.ColumnTicketID:       t.ID,
		models.ColumnSubject:        t.Subject,
		models.ColumnDescription:    t.Description,
		models.ColumnCommentsJSON:   comments,
		models.ColumnCreatedAt:      t.CreatedAt,
		models.ColumnUpdatedAt:      t.UpdatedAt,
		models.ColumnTags:           t.TagsOrEmpty(),
		models.ColumnChannel:        t.Channel,
		models.ColumnAssigneeID:     t.AssigneeID,
		models.ColumnStatus:         t.Status,
		models.ColumnPriority:       t.Priority,
		models.ColumnRequesterEmail: t.RequesterEmail,
		models.ColumnIngestedAt:     t.IngestedAt,
	}
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return args, nil
}

// InsertColumns are the argument columns of InsertSQL.
func InsertColumns() []string {
	return models.TicketSchema.ColumnNames()
}

// UpdateColumns are the argument columns of UpdateSQL.
func UpdateColumns() []string {
	return append([]string{models.ColumnTicketID}, models.TicketSchema.MutableColumns()...)
}

// CreateTableSQL is the DDL of the tickets table.
func CreateTableSQL(table string) string {
	fields := models.TicketSchema.Fields
	defs := make([]string, len(fields))
	for i, f := range fields {
		def := f.Name + " " + columnType(f)
		if f.Required || f.Repeated {
			def += " NOT NULL"
		}
		if f.Name == models.ColumnTicketID {
			def += " PRIMARY KEY"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(defs, ",\n  "))
}

// InsertSQL inserts one row and leaves an existing row alone. Arguments
// follow InsertColumns.
func InsertSQL(table string) string {
	cols := InsertColumns()
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, strings.Join(cols, ", "), placeholders(1, len(cols)), models.ColumnTicketID)
}

// ExistsSQL selects the stored subset of $1.
func ExistsSQL(table string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)",
		models.ColumnTicketID, table, models.ColumnTicketID)
}

// UpdateSQL rewrites the mutable columns unless the stored row is newer.
// Arguments follow UpdateColumns.
func UpdateSQL(table string) string {
	cols := UpdateColumns()
	set := make([]string, 0, len(cols)-1)
	updatedAt := 0
	for i, c := range cols[1:] {
		if c == models.ColumnUpdatedAt {
			updatedAt = i + 2
		}
		set = append(set, fmt.Sprintf("%s = $%d", c, i+2))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 AND %s <= $%d",
		table, strings.Join(set, ", "), models.ColumnTicketID, models.ColumnUpdatedAt, updatedAt)
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

func columnType(f models.Field) string {
	var t string
	switch f.Type {
	case models.FieldTypeInteger:
		t = "BIGINT"
	case models.FieldTypeTimestamp:
		t = "TIMESTAMPTZ"
	case models.FieldTypeJSON:
		t = "JSONB"
	default:
		t = "TEXT"
	}
	if f.Repeated {
		t += "[]"
	}
	return t
}
