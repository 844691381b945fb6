// Package config defines the deskstream configuration.
//
// The configuration is organized into sections:
//   - Upstream: ticket API location and credentials
//   - Transport: retry budget and rate-limit thresholds
//   - Sink: durable store for ticket rows
//   - Checkpoint: where resume positions are persisted
//   - Backfill and Incremental: per-orchestrator batch policy
//   - Log, Metrics and Tracing: observability
//
// Values come from Default, then an optional YAML file, then environment
// variables prefixed with DESKSTREAM_ (nested keys joined with "_", for example
// DESKSTREAM_SINK_BIGQUERY_DATASET). The variable names of the original
// deployment (ZENDESK_SUBDOMAIN, ZENDESK_EMAIL, ZENDESK_API_TOKEN and
// GCP_PROJECT_ID) are honoured as well.
//
// Example usage:
//
//	cfg, err := config.Load("deskstream.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Upstream.ResolveBaseURL())
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
)

// Sink types
const (
	SinkBigQuery = "bigquery"
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkMemory   = "memory"
)

// Checkpoint store types
const (
	CheckpointFile  = "file"
	CheckpointGCS   = "gcs"
	CheckpointRedis = "redis"
)

// Insert error policies for the backfill orchestrator
const (
	OnInsertErrorFail     = "fail"
	OnInsertErrorContinue = "continue"
)

// Config is the complete deskstream configuration.
type Config struct {
	Upstream    UpstreamConfig    `mapstructure:"upstream" yaml:"upstream"`
	Transport   TransportConfig   `mapstructure:"transport" yaml:"transport"`
	Sink        SinkConfig        `mapstructure:"sink" yaml:"sink"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint" yaml:"checkpoint"`
	Backfill    BackfillConfig    `mapstructure:"backfill" yaml:"backfill"`
	Incremental IncrementalConfig `mapstructure:"incremental" yaml:"incremental"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
}

// UpstreamConfig locates the ticket API.
type UpstreamConfig struct {
	// Subdomain of <subdomain>.zendesk.com
	Subdomain string `mapstructure:"subdomain" yaml:"subdomain"`
	Email     string `mapstructure:"email" yaml:"email"`
	APIToken  string `mapstructure:"api_token" yaml:"api_token"`
	// BaseURL overrides the URL derived from Subdomain
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// StreamPath is the incremental cursor export endpoint
	StreamPath string `mapstructure:"stream_path" yaml:"stream_path"`
	// CommentsPath is a format string taking the ticket id
	CommentsPath string `mapstructure:"comments_path" yaml:"comments_path"`
	// Lookback bounds a fresh backfill with no start date
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
}

// TransportConfig controls request execution.
type TransportConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier        float64       `mapstructure:"multiplier" yaml:"multiplier"`
	LowWaterMark      int           `mapstructure:"low_water_mark" yaml:"low_water_mark"`
	Cooldown          time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after" yaml:"default_retry_after"`
	RemainingHeader   string        `mapstructure:"remaining_header" yaml:"remaining_header"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	EnableHTTP2       bool          `mapstructure:"enable_http2" yaml:"enable_http2"`
}

// SinkConfig selects and configures the durable store.
type SinkConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	BigQuery BigQueryConfig `mapstructure:"bigquery" yaml:"bigquery"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
}

// BigQueryConfig configures the BigQuery sink.
type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	Dataset         string `mapstructure:"dataset" yaml:"dataset"`
	Table           string `mapstructure:"table" yaml:"table"`
	Location        string `mapstructure:"location" yaml:"location"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Table    string `mapstructure:"table" yaml:"table"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// SQLiteConfig configures the SQLite sink.
type SQLiteConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Table string `mapstructure:"table" yaml:"table"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Type  string           `mapstructure:"type" yaml:"type"`
	Dir   string           `mapstructure:"dir" yaml:"dir"`
	GCS   GCSConfig        `mapstructure:"gcs" yaml:"gcs"`
	Redis RedisStoreConfig `mapstructure:"redis" yaml:"redis"`
}

// GCSConfig configures the GCS checkpoint store.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// RedisStoreConfig configures the Redis checkpoint store.
type RedisStoreConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// BackfillConfig is the batch policy of the backfill orchestrator.
type BackfillConfig struct {
	BatchSize     int    `mapstructure:"batch_size" yaml:"batch_size"`
	CheckpointKey string `mapstructure:"checkpoint_key" yaml:"checkpoint_key"`
	// OnInsertError is "fail" or "continue"
	OnInsertError string `mapstructure:"on_insert_error" yaml:"on_insert_error"`
}

// IncrementalConfig is the batch policy of the incremental orchestrator.
type IncrementalConfig struct {
	BatchSize     int    `mapstructure:"batch_size" yaml:"batch_size"`
	CheckpointKey string `mapstructure:"checkpoint_key" yaml:"checkpoint_key"`
	// Window is how far back a first run starts
	Window time.Duration `mapstructure:"window" yaml:"window"`
	// Interval between runs for `incremental --every`; zero runs once
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr to serve /metrics on, empty disables the server
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// Exporter is "stdout" or "none"
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			StreamPath:   "/incremental/tickets/cursor.json",
			CommentsPath: "/tickets/%d/comments.json",
			Lookback:     365 * 24 * time.Hour,
		},
		Transport: TransportConfig{
			Timeout:           30 * time.Second,
			MaxAttempts:       5,
			InitialDelay:      4 * time.Second,
			MaxDelay:          60 * time.Second,
			Multiplier:        2.0,
			LowWaterMark:      10,
			Cooldown:          60 * time.Second,
			DefaultRetryAfter: 60 * time.Second,
			RemainingHeader:   "X-Rate-Limit-Remaining",
			MaxIdleConns:      10,
			EnableHTTP2:       true,
		},
		Sink: SinkConfig{
			Type: SinkBigQuery,
			BigQuery: BigQueryConfig{
				Dataset:  "raw",
				Table:    "tickets",
				Location: "US",
			},
			Postgres: PostgresConfig{
				Table:    "raw_tickets",
				MaxConns: 4,
			},
			SQLite: SQLiteConfig{
				Path:  "deskstream.db",
				Table: "raw_tickets",
			},
		},
		Checkpoint: CheckpointConfig{
			Type: CheckpointFile,
			Dir:  "checkpoints",
			GCS: GCSConfig{
				Prefix: "deskstream/checkpoints",
			},
			Redis: RedisStoreConfig{
				Addr:   "localhost:6379",
				Prefix: "deskstream:checkpoint",
			},
		},
		Backfill: BackfillConfig{
			BatchSize:     100,
			CheckpointKey: "backfill_cursor",
			OnInsertError: OnInsertErrorFail,
		},
		Incremental: IncrementalConfig{
			BatchSize:     50,
			CheckpointKey: "incremental_cursor",
			Window:        24 * time.Hour,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "deskstream",
			Exporter:    "stdout",
		},
	}
}

// ResolveBaseURL returns BaseURL, or the API root derived from Subdomain.
func (u UpstreamConfig) ResolveBaseURL() string {
	if u.BaseURL != "" {
		return u.BaseURL
	}
	return fmt.Sprintf("https://%s.zendesk.com/api/v2", u.Subdomain)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" && c.Upstream.Subdomain == "" {
		return configError("upstream.subdomain or upstream.base_url is required")
	}
	if c.Upstream.Email == "" || c.Upstream.APIToken == "" {
		return configError("upstream.email and upstream.api_token are required")
	}
	if c.Transport.MaxAttempts <= 0 {
		return configError("transport.max_attempts must be positive")
	}
	if c.Transport.Multiplier < 1 {
		return configError("transport.multiplier must be at least 1")
	}
	if c.Transport.LowWaterMark < 0 {
		return configError("transport.low_water_mark cannot be negative")
	}
	if c.Backfill.BatchSize <= 0 || c.Incremental.BatchSize <= 0 {
		return configError("batch_size must be positive")
	}
	if c.Backfill.CheckpointKey == "" || c.Incremental.CheckpointKey == "" {
		return configError("checkpoint_key is required")
	}
	if c.Backfill.CheckpointKey == c.Incremental.CheckpointKey {
		return configError("backfill and incremental must use different checkpoint keys")
	}

	switch c.Backfill.OnInsertError {
	case OnInsertErrorFail, OnInsertErrorContinue:
	default:
		return configError(fmt.Sprintf("backfill.on_insert_error must be %q or %q", OnInsertErrorFail, OnInsertErrorContinue))
	}

	switch c.Sink.Type {
	case SinkBigQuery:
		if c.Sink.BigQuery.ProjectID == "" {
			return configError("sink.bigquery.project_id is required")
		}
		if c.Sink.BigQuery.Dataset == "" || c.Sink.BigQuery.Table == "" {
			return configError("sink.bigquery.dataset and sink.bigquery.table are required")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			return configError("sink.postgres.dsn is required")
		}
	case SinkSQLite:
		if c.Sink.SQLite.Path == "" {
			return configError("sink.sqlite.path is required")
		}
	case SinkMemory:
	default:
		return configError(fmt.Sprintf("unknown sink type %q", c.Sink.Type))
	}

	switch c.Checkpoint.Type {
	case CheckpointFile:
		if c.Checkpoint.Dir == "" {
			return configError("checkpoint.dir is required")
		}
	case CheckpointGCS:
		if c.Checkpoint.GCS.Bucket == "" {
			return configError("checkpoint.gcs.bucket is required")
		}
	case CheckpointRedis:
		if c.Checkpoint.Redis.Addr == "" {
			return configError("checkpoint.redis.addr is required")
		}
	default:
		return configError(fmt.Sprintf("unknown checkpoint type %q", c.Checkpoint.Type))
	}

	return nil
}

func configError(msg string) error {
	return deskerrors.New(deskerrors.ErrorTypeConfig, msg)
}
