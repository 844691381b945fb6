// Package connector groups the endpoints deskstream reads from and writes to.
//
// # Layout
//
//   - sources/zendesk: the Paginator over the incremental ticket export and
//     Source, which pairs it with the Transport of one run.
//
//   - destinations: Open builds the sink.Backend selected by configuration,
//     Provision creates its table when the backend supports it.
//
//   - destinations/bigquery: streaming inserts plus MERGE for conditional
//     updates, day-partitioned on created_at.
//
//   - destinations/postgres: pgx pool, batched INSERT ... ON CONFLICT DO
//     NOTHING and guarded UPDATE.
//
//   - destinations/sqlite: pure Go SQLite for local runs and tests.
//
// # Writing a backend
//
// A backend implements sink.Backend:
//
//	type Backend interface {
//	    Insert(ctx context.Context, tickets []*models.Ticket) ([]RowError, error)
//	    ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
//	    Update(ctx context.Context, t *models.Ticket) error
//	    Close() error
//	}
//
// Insert must not overwrite existing rows and Update must only apply when the
// stored updated_at is not newer. The sink.Adapter builds idempotent upserts
// on top of these two rules. Implement sink.Provisioner as well when the store
// needs a table created up front.
package connector
