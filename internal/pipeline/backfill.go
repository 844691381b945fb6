package pipeline

import (
	"context"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/checkpoint"
	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/logger"
	"github.com/ajitpratap0/deskstream/pkg/metrics"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/ajitpratap0/deskstream/pkg/observability"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BackfillOptions select where a backfill starts and when it stops.
type BackfillOptions struct {
	// StartTime forces a fresh run from this time, ignoring any checkpoint
	StartTime time.Time
	// Resume continues from the saved checkpoint
	Resume bool
	// Limit stops the run after this many tickets; zero means no limit
	Limit int64
}

// Backfill is the one-shot historical sync.
type Backfill struct {
	runGuard

	config config.BackfillConfig
	open   SourceFactory
	sink   *sink.Adapter
	store  checkpoint.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewBackfill creates a backfill orchestrator.
func NewBackfill(cfg config.BackfillConfig, open SourceFactory, adapter *sink.Adapter, store checkpoint.Store, logger *zap.Logger) *Backfill {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.Default().Backfill.BatchSize
	}
	if cfg.CheckpointKey == "" {
		cfg.CheckpointKey = config.Default().Backfill.CheckpointKey
	}
	if cfg.OnInsertError == "" {
		cfg.OnInsertError = config.OnInsertErrorFail
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfill{
		config: cfg,
		open:   open,
		sink:   adapter,
		store:  store,
		logger: logger.With(zap.String("component", "backfill")),
		now:    time.Now,
	}
}

// Run executes one backfill. The returned report is filled in on failure
// too; the last saved checkpoint stays valid for the next resume.
func (b *Backfill) Run(ctx context.Context, opts BackfillOptions) (RunReport, error) {
	report := RunReport{Job: JobBackfill, RunID: uuid.NewString(), StartedAt: b.now()}
	if err := b.begin(JobBackfill); err != nil {
		report.Status = StatusFailed
		report.Err = err
		return report, err
	}

	ctx = logger.ContextWithRun(ctx, JobBackfill, report.RunID)
	ctx, span := observability.StartSpan(ctx, "backfill.run",
		attribute.String("run_id", report.RunID),
		attribute.Int64("limit", opts.Limit))

	err := b.run(ctx, opts, &report)

	report.FinishedAt = b.now()
	if err != nil {
		report.Status = StatusFailed
		report.Err = err
	}
	b.end(report.Status)
	span.SetAttributes(
		attribute.String("status", string(report.Status)),
		attribute.Int64("processed", report.Processed))
	observability.EndSpan(span, err)
	metrics.RunDuration.WithLabelValues(JobBackfill, string(report.Status)).Observe(report.Duration().Seconds())

	log := logger.WithContext(ctx, b.logger)
	if err != nil {
		log.Error("backfill failed",
			zap.Int64("processed", report.Processed),
			zap.Stringer("checkpoint", report.Position),
			zap.Error(err))
		return report, err
	}
	log.Info("backfill finished",
		zap.String("status", string(report.Status)),
		zap.Int64("processed", report.Processed),
		zap.Int64("total_processed", report.TotalProcessed),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("row_errors", report.Errors),
		zap.Duration("duration", report.Duration()))
	return report, nil
}

func (b *Backfill) run(ctx context.Context, opts BackfillOptions, report *RunReport) error {
	log := logger.WithContext(ctx, b.logger)
	key := b.config.CheckpointKey

	var (
		from  zendesk.Position
		total int64
	)
	switch {
	case !opts.StartTime.IsZero():
		from = zendesk.Position{StartTime: opts.StartTime.UTC()}
		log.Info("starting fresh backfill", zap.Time("start_time", from.StartTime))
	case opts.Resume:
		cp, err := loadCheckpoint(ctx, b.store, key)
		if err != nil {
			return err
		}
		if pos, ok := positionOf(cp); ok {
			from = pos
			total = cp.Processed()
			log.Info("resuming backfill",
				zap.Stringer("position", from),
				zap.Int64("items_processed", total))
		} else {
			log.Info("no checkpoint found, starting from the lookback window")
		}
	}
	report.ResumedFrom = from
	report.Position = from
	report.TotalProcessed = total

	src, err := b.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("failed to close source", zap.Error(cerr))
		}
		report.Skipped = src.Stats().ItemsSkipped
	}()

	throughput := metrics.NewThroughputTracker(JobBackfill)
	batch := make([]*models.Ticket, 0, b.config.BatchSize)
	var next zendesk.Position

	commit := func(pos zendesk.Position) error {
		if err := b.commit(ctx, batch, pos, report); err != nil {
			return err
		}
		throughput.Increment(int64(len(batch)))
		throughput.GetAndReset()
		batch = batch[:0]
		return nil
	}

	for item, err := range src.Stream(ctx, from) {
		if err != nil {
			return err
		}
		batch = append(batch, item.Ticket)
		next = item.Next

		limitHit := opts.Limit > 0 && report.Processed+int64(len(batch)) >= opts.Limit
		if len(batch) < b.config.BatchSize && !limitHit {
			continue
		}
		if err := commit(next); err != nil {
			return err
		}
		if limitHit {
			report.Status = StatusLimitReached
			log.Info("item limit reached", zap.Int64("limit", opts.Limit))
			return nil
		}
	}

	// The stream position now lies past trailing skipped items too
	if err := commit(src.Position()); err != nil {
		return err
	}
	report.Status = StatusCompleted
	return nil
}

// commit inserts the batch and saves the checkpoint at pos. An empty batch
// only moves the checkpoint.
func (b *Backfill) commit(ctx context.Context, batch []*models.Ticket, pos zendesk.Position, report *RunReport) error {
	log := logger.WithContext(ctx, b.logger)

	if len(batch) > 0 {
		ctx, span := observability.StartSpan(ctx, "backfill.batch", attribute.Int("size", len(batch)))
		timer := metrics.NewTimer()
		rowErrs, err := b.sink.InsertBatch(ctx, batch)
		metrics.BatchLatency.WithLabelValues(JobBackfill).Observe(timer.Stop().Seconds())
		observability.EndSpan(span, err)
		if err != nil {
			return err
		}

		failed := int64(len(rowErrs))
		report.Errors += failed
		metrics.RecordsProcessed.WithLabelValues(JobBackfill, "failed").Add(float64(failed))
		if failed > 0 && b.config.OnInsertError != config.OnInsertErrorContinue {
			return deskerrors.Newf(deskerrors.ErrorTypeSink, "%d of %d rows rejected by the sink", failed, len(batch)).
				WithDetail("first_ticket_id", rowErrs[0].TicketID)
		}

		attempted := int64(len(batch))
		report.Processed += attempted
		report.TotalProcessed += attempted
		report.Inserted += attempted - failed
		report.Batches++
		metrics.RecordsProcessed.WithLabelValues(JobBackfill, "inserted").Add(float64(attempted - failed))
		metrics.BatchesCommitted.WithLabelValues(JobBackfill).Inc()
	} else if samePosition(pos, report.Position) {
		return nil
	}

	cp := checkpointAt(pos, b.now())
	total := report.TotalProcessed
	cp.ItemsProcessed = &total
	if err := saveCheckpoint(ctx, b.store, b.config.CheckpointKey, cp); err != nil {
		return err
	}
	report.Position = pos

	log.Info("batch committed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("processed", report.Processed),
		zap.Int64("total_processed", report.TotalProcessed),
		zap.Stringer("checkpoint", pos))
	return nil
}
