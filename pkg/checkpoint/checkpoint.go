// Package checkpoint persists resume positions of the orchestrators.
//
// A checkpoint is a small JSON document stored under a key such as
// "backfill_cursor". Stores overwrite it atomically: a reader sees either the
// previous or the new document, never a partial one.
//
//	{
//	  "cursor": "MTU3NjYxMzUzOS4wfHw0Njd8",
//	  "page_offset": 40,
//	  "items_processed": 12040,
//	  "last_updated": "2024-03-01T09:00:00Z"
//	}
//
// cursor is null while the stream is still addressed by start time.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/guregu/null"
)

// ErrNotFound is returned by Load when no checkpoint exists under the key.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted resume state of one orchestrator.
type Checkpoint struct {
	Cursor null.String `json:"cursor"`
	// StartTime addresses the page when no cursor was issued yet
	StartTime *time.Time `json:"start_time,omitempty"`
	// PageOffset counts raw items of the page already committed
	PageOffset int `json:"page_offset,omitempty"`

	// ItemsProcessed is the running total of a backfill
	ItemsProcessed *int64 `json:"items_processed,omitempty"`
	// LastRun is the start of the last successful incremental run
	LastRun *time.Time `json:"last_run,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// Processed returns ItemsProcessed or 0.
func (c *Checkpoint) Processed() int64 {
	if c == nil || c.ItemsProcessed == nil {
		return 0
	}
	return *c.ItemsProcessed
}

// Store loads and saves checkpoints by key.
type Store interface {
	// Load returns ErrNotFound when nothing was saved under key.
	Load(ctx context.Context, key string) (*Checkpoint, error)
	// Save atomically replaces the checkpoint under key.
	Save(ctx context.Context, key string, cp *Checkpoint) error
	Close() error
}

// Encode renders a checkpoint document.
func Encode(cp *Checkpoint) ([]byte, error) {
	return json.MarshalIndent(cp, "", "  ")
}

// Decode parses a checkpoint document.
func Decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ValidateKey rejects keys that cannot be used as a file or object name.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("checkpoint key is empty")
	}
	if strings.ContainsAny(key, `/\:`) || key == "." || key == ".." {
		return fmt.Errorf("invalid checkpoint key %q", key)
	}
	return nil
}
