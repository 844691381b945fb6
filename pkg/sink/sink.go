// Package sink writes ticket batches to a durable store.
//
// A Backend is the store-specific part: bulk insert, existence query and a
// conditional single-row update. The Adapter layers the batch policies on
// top of it:
//
//   - InsertBatch is the backfill path: stamp, bulk insert, report row errors.
//   - UpsertBatch is the incremental path: collapse duplicate ids, split the
//     batch into new and changed tickets, insert the new ones and update the
//     changed ones only when the stored version is not newer.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"go.uber.org/zap"
)

// maxLoggedRowErrors caps per-row error logs of one batch.
const maxLoggedRowErrors = 5

// RowError reports one ticket the store refused.
type RowError struct {
	TicketID int64
	Err      error
}

func (e RowError) Error() string {
	return fmt.Sprintf("ticket %d: %v", e.TicketID, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Backend is a durable ticket store.
type Backend interface {
	// Insert appends tickets. Row-level rejections are returned as RowErrors;
	// the error result is reserved for call-level failures.
	Insert(ctx context.Context, tickets []*models.Ticket) ([]RowError, error)
	// ExistingIDs returns the subset of ids already stored.
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	// Update replaces the stored ticket unless the stored updated_at is newer.
	Update(ctx context.Context, ticket *models.Ticket) error
	Close() error
}

// Provisioner is implemented by backends that can create their table.
type Provisioner interface {
	EnsureTable(ctx context.Context) error
}

// UpsertResult counts the outcome of one UpsertBatch call.
type UpsertResult struct {
	Inserted int
	Updated  int
	Failed   int
}

// Add accumulates r into the receiver.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Failed += o.Failed
}

// Adapter applies the batch policies to a Backend.
type Adapter struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// NewAdapter wraps backend. now stamps IngestedAt and defaults to time.Now.
func NewAdapter(backend Backend, logger *zap.Logger, now func() time.Time) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		backend: backend,
		logger:  logger.With(zap.String("component", "sink")),
		now:     now,
	}
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// InsertBatch stamps and bulk inserts tickets. Row errors are returned and
// the first few are logged. A store failure is returned as a sink error.
func (a *Adapter) InsertBatch(ctx context.Context, tickets []*models.Ticket) ([]RowError, error) {
	if len(tickets) == 0 {
		return nil, nil
	}
	a.stamp(tickets)

	rowErrs, err := a.backend.Insert(ctx, tickets)
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeSink, "insert batch failed").
			WithDetail("batch_size", len(tickets))
	}
	a.logRowErrors(rowErrs, len(tickets))
	return rowErrs, nil
}

// UpsertBatch writes tickets so that the store holds one row per id with the
// newest version. Only a failed existence query fails the call; insert and
// update failures are logged and counted.
func (a *Adapter) UpsertBatch(ctx context.Context, tickets []*models.Ticket) (UpsertResult, error) {
	var result UpsertResult

	unique := Dedupe(tickets)
	if len(unique) == 0 {
		return result, nil
	}
	if dropped := len(tickets) - len(unique); dropped > 0 {
		a.logger.Debug("collapsed duplicate ticket ids", zap.Int("dropped", dropped))
	}
	a.stamp(unique)

	existing, err := a.backend.ExistingIDs(ctx, models.IDs(unique))
	if err != nil {
		return result, deskerrors.Wrap(err, deskerrors.ErrorTypeSink, "existence query failed")
	}

	var fresh, changed []*models.Ticket
	for _, t := range unique {
		if _, ok := existing[t.ID]; ok {
			changed = append(changed, t)
		} else {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) > 0 {
		rowErrs, err := a.backend.Insert(ctx, fresh)
		switch {
		case err != nil:
			a.logger.Error("failed to insert new tickets",
				zap.Int("count", len(fresh)),
				zap.Error(err))
			result.Failed += len(fresh)
		default:
			a.logRowErrors(rowErrs, len(fresh))
			result.Failed += len(rowErrs)
			result.Inserted += len(fresh) - len(rowErrs)
		}
	}

	for _, t := range changed {
		if err := a.backend.Update(ctx, t); err != nil {
			a.logger.Error("failed to update ticket",
				zap.Int64("ticket_id", t.ID),
				zap.Error(err))
			result.Failed++
			continue
		}
		result.Updated++
	}

	return result, nil
}

// Close closes the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

// Dedupe collapses repeated ids, keeping the last occurrence at the position
// of the first.
func Dedupe(tickets []*models.Ticket) []*models.Ticket {
	index := make(map[int64]int, len(tickets))
	out := make([]*models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if i, ok := index[t.ID]; ok {
			out[i] = t
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

func (a *Adapter) stamp(tickets []*models.Ticket) {
	now := a.now().UTC()
	for _, t := range tickets {
		t.IngestedAt = now
	}
}

func (a *Adapter) logRowErrors(rowErrs []RowError, batchSize int) {
	if len(rowErrs) == 0 {
		return
	}
	a.logger.Warn("rows rejected by store",
		zap.Int("rejected", len(rowErrs)),
		zap.Int("batch_size", batchSize))
	for i, re := range rowErrs {
		if i == maxLoggedRowErrors {
			break
		}
		a.logger.Warn("row error", zap.Int64("ticket_id", re.TicketID), zap.Error(re.Err))
	}
}
