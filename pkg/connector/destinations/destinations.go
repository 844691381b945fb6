// Package destinations opens the ticket store selected by configuration.
package destinations

import (
	"context"

	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/connector/destinations/bigquery"
	"github.com/ajitpratap0/deskstream/pkg/connector/destinations/postgres"
	"github.com/ajitpratap0/deskstream/pkg/connector/destinations/sqlite"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"go.uber.org/zap"
)

// Open returns the backend for cfg.Type.
func Open(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) (sink.Backend, error) {
	var (
		backend sink.Backend
		err     error
	)
	switch cfg.Type {
	case config.SinkBigQuery:
		var d *bigquery.Destination
		d, err = bigquery.New(ctx, bigquery.Config{
			ProjectID:       cfg.BigQuery.ProjectID,
			Dataset:         cfg.BigQuery.Dataset,
			Table:           cfg.BigQuery.Table,
			Location:        cfg.BigQuery.Location,
			CredentialsFile: cfg.BigQuery.CredentialsFile,
		}, logger)
		backend = d
	case config.SinkPostgres:
		var d *postgres.Destination
		d, err = postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		}, logger)
		backend = d
	case config.SinkSQLite:
		var d *sqlite.Destination
		d, err = sqlite.Open(cfg.SQLite.Path, cfg.SQLite.Table, logger)
		backend = d
	case config.SinkMemory:
		backend = sink.NewMemoryBackend()
	default:
		err = deskerrors.Newf(deskerrors.ErrorTypeConfig, "unknown sink type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// Provision creates the table of backends that support it.
func Provision(ctx context.Context, backend sink.Backend) (bool, error) {
	p, ok := backend.(sink.Provisioner)
	if !ok {
		return false, nil
	}
	return true, p.EnsureTable(ctx)
}
