package config_test

import (
	"fmt"

	"github.com/ajitpratap0/deskstream/pkg/config"
)

// ExampleDefault shows the batch policies both orchestrators start from.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Backfill batch: %d\n", cfg.Backfill.BatchSize)
	fmt.Printf("Incremental batch: %d\n", cfg.Incremental.BatchSize)
	fmt.Printf("Retry budget: %d attempts\n", cfg.Transport.MaxAttempts)

	// Output:
	// Backfill batch: 100
	// Incremental batch: 50
	// Retry budget: 5 attempts
}

// ExampleConfig_Validate shows that credentials are required.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Upstream.Subdomain = "acme"

	fmt.Println(cfg.Validate())

	// Output:
	// config: upstream.email and upstream.api_token are required
}
