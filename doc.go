// Package deskstream ingests support tickets from the Zendesk incremental
// export API into a durable store, either as a resumable one-shot backfill or
// as a recurring incremental sync.
//
// # Architecture
//
// A run pulls pages through three layers and pushes batches into one:
//
//  1. Transport (pkg/clients): authenticated GETs with a bounded retry
//     budget, exponential backoff and rate-limit aware sleeping.
//
//  2. Paginator (pkg/connector/sources/zendesk): walks the cursor-paginated
//     export, decodes tickets, attaches comments and skips malformed items.
//     Every yielded ticket carries the exact Position to resume after it.
//
//  3. Orchestrators (internal/pipeline): Backfill batches tickets, inserts
//     them and checkpoints after every committed batch. Incremental upserts
//     changed tickets and checkpoints once at the end of a successful run.
//
//  4. Sink (pkg/sink and pkg/connector/destinations): the Adapter stamps and
//     partitions batches into inserts and conditional updates on top of a
//     BigQuery, Postgres, SQLite or in-memory backend.
//
// Checkpoints (pkg/checkpoint) live on local disk, in GCS or in Redis.
//
// # Quick Start
//
//	export ZENDESK_SUBDOMAIN=acme ZENDESK_EMAIL=ops@acme.com ZENDESK_API_TOKEN=...
//	export GCP_PROJECT_ID=acme-analytics
//
//	deskstream check
//	deskstream setup
//	deskstream backfill --start-date 2023-01-01
//	deskstream incremental --every 15m
//
// Embedding the orchestrators directly:
//
//	cfg, _ := config.Load("deskstream.yaml")
//	backend, _ := destinations.Open(ctx, cfg.Sink, log)
//	store, _ := checkpoint.Open(ctx, cfg.Checkpoint, log)
//	adapter := sink.NewAdapter(backend, log, time.Now)
//
//	bf := pipeline.NewBackfill(cfg.Backfill, openSource, adapter, store, log)
//	report, err := bf.Run(ctx, pipeline.BackfillOptions{Resume: true})
//
// # Guarantees
//
//   - A ticket id maps to exactly one row; replaying a batch is a no-op.
//   - A row's updated_at never moves backwards.
//   - A backfill checkpoint never points past an uncommitted ticket, so a
//     crash re-reads at most one batch.
//   - A failed incremental run saves nothing and the next run repeats it.
//
// # Observability
//
// Logs are structured zap JSON carrying run_id and job. Prometheus metrics
// are served with --metrics-addr and OpenTelemetry spans cover runs and
// batches.
package deskstream
