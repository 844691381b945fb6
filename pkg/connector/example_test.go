package connector_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/connector/destinations"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"go.uber.org/zap"
)

// Example opens the backend named in configuration and upserts the same
// batch twice. The replay only updates.
func Example() {
	ctx := context.Background()

	backend, err := destinations.Open(ctx, config.SinkConfig{Type: config.SinkMemory}, zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	adapter := sink.NewAdapter(backend, zap.NewNop(), time.Now)
	defer adapter.Close()

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	batch := []*models.Ticket{
		{ID: 1, CreatedAt: ts, UpdatedAt: ts},
		{ID: 2, CreatedAt: ts, UpdatedAt: ts},
	}

	for _, run := range []string{"first", "replay"} {
		result, err := adapter.UpsertBatch(ctx, batch)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: %d inserted, %d updated\n", run, result.Inserted, result.Updated)
	}

	// Output:
	// first: 2 inserted, 0 updated
	// replay: 0 inserted, 2 updated
}
