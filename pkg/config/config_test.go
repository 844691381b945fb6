package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Upstream.Subdomain = "acme"
	cfg.Upstream.Email = "ops@acme.test"
	cfg.Upstream.APIToken = "secret"
	cfg.Sink.Type = SinkMemory
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5, cfg.Transport.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Transport.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Transport.MaxDelay)
	assert.Equal(t, 10, cfg.Transport.LowWaterMark)
	assert.Equal(t, 100, cfg.Backfill.BatchSize)
	assert.Equal(t, 50, cfg.Incremental.BatchSize)
	assert.Equal(t, "backfill_cursor", cfg.Backfill.CheckpointKey)
	assert.Equal(t, "incremental_cursor", cfg.Incremental.CheckpointKey)
	assert.Equal(t, OnInsertErrorFail, cfg.Backfill.OnInsertError)
}

func TestResolveBaseURL(t *testing.T) {
	u := UpstreamConfig{Subdomain: "acme"}
	assert.Equal(t, "https://acme.zendesk.com/api/v2", u.ResolveBaseURL())

	u.BaseURL = "http://127.0.0.1:8080"
	assert.Equal(t, "http://127.0.0.1:8080", u.ResolveBaseURL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no upstream", func(c *Config) { c.Upstream.Subdomain = "" }, "upstream.subdomain"},
		{"no token", func(c *Config) { c.Upstream.APIToken = "" }, "api_token"},
		{"zero attempts", func(c *Config) { c.Transport.MaxAttempts = 0 }, "max_attempts"},
		{"zero batch", func(c *Config) { c.Backfill.BatchSize = 0 }, "batch_size"},
		{"shared key", func(c *Config) { c.Incremental.CheckpointKey = c.Backfill.CheckpointKey }, "different checkpoint keys"},
		{"bad policy", func(c *Config) { c.Backfill.OnInsertError = "ignore" }, "on_insert_error"},
		{"unknown sink", func(c *Config) { c.Sink.Type = "s3" }, "unknown sink type"},
		{"bigquery without project", func(c *Config) { c.Sink.Type = SinkBigQuery }, "project_id"},
		{"postgres without dsn", func(c *Config) { c.Sink.Type = SinkPostgres }, "dsn"},
		{"gcs without bucket", func(c *Config) { c.Checkpoint.Type = CheckpointGCS }, "bucket"},
		{"unknown store", func(c *Config) { c.Checkpoint.Type = "etcd" }, "unknown checkpoint type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, deskerrors.IsType(err, deskerrors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskstream.yaml")
	yamlDoc := `
upstream:
  subdomain: acme
  email: ops@acme.test
sink:
  type: sqlite
  sqlite:
    path: /tmp/tickets.db
backfill:
  batch_size: 25
incremental:
  interval: 15m
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("ZENDESK_API_TOKEN", "from-legacy-env")
	t.Setenv("DESKSTREAM_TRANSPORT_LOW_WATER_MARK", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Upstream.Subdomain)
	assert.Equal(t, "from-legacy-env", cfg.Upstream.APIToken)
	assert.Equal(t, SinkSQLite, cfg.Sink.Type)
	assert.Equal(t, "/tmp/tickets.db", cfg.Sink.SQLite.Path)
	assert.Equal(t, 25, cfg.Backfill.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Incremental.Interval)
	assert.Equal(t, 3, cfg.Transport.LowWaterMark)
	// untouched defaults survive
	assert.Equal(t, 50, cfg.Incremental.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Incremental.Window)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, deskerrors.IsType(err, deskerrors.ErrorTypeConfig))
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Sink.Postgres.DSN = "postgres://ingest:hunter2@db:5432/support"
	cfg.Checkpoint.Redis.Password = "redispw"

	out, err := Dump(cfg)
	require.NoError(t, err)

	text := string(out)
	assert.NotContains(t, text, "secret")
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "redispw")
	assert.Contains(t, text, "postgres://ingest:********@db:5432/support")
	assert.Contains(t, text, "subdomain: acme")

	// the caller's config is untouched
	assert.Equal(t, "secret", cfg.Upstream.APIToken)
}
