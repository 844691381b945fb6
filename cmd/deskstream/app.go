package main

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/deskstream/internal/pipeline"
	"github.com/ajitpratap0/deskstream/pkg/checkpoint"
	"github.com/ajitpratap0/deskstream/pkg/clients"
	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/connector/destinations"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/logger"
	"github.com/ajitpratap0/deskstream/pkg/metrics"
	"github.com/ajitpratap0/deskstream/pkg/observability"
	"github.com/ajitpratap0/deskstream/pkg/sink"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the process-wide state of one command: validated config, the
// global logger and the tracer provider.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	shutdown observability.ShutdownFunc
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Log.Development,
	}); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "invalid log configuration")
	}
	log := logger.With(zap.String("component", "deskstream-cli"))

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		ExporterType:   cfg.Tracing.Exporter,
	})
	if err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "invalid tracing configuration")
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", addr))
	}

	return &app{cfg: cfg, log: log, shutdown: shutdown}, nil
}

// Close flushes traces and logs.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("failed to flush traces", zap.Error(err))
	}
	_ = logger.Sync()
}

// withApp runs fn with an app built from the persistent flags.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// components are the stores a sync job writes to.
type components struct {
	sink  *sink.Adapter
	store checkpoint.Store
}

func (a *app) openComponents(ctx context.Context) (*components, error) {
	backend, err := destinations.Open(ctx, a.cfg.Sink, a.log)
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.Open(ctx, a.cfg.Checkpoint, a.log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &components{
		sink:  sink.NewAdapter(backend, a.log, time.Now),
		store: store,
	}, nil
}

func (c *components) Close() error {
	return errors.Join(c.sink.Close(), c.store.Close())
}

// sourceFactory opens a fresh transport and paginator for every run.
func (a *app) sourceFactory() pipeline.SourceFactory {
	tcfg := transportConfig(a.cfg)
	pcfg := paginatorConfig(a.cfg)
	return func(context.Context) (pipeline.Stream, error) {
		src, err := zendesk.Open(tcfg, pcfg, a.log)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func transportConfig(cfg *config.Config) clients.TransportConfig {
	t := cfg.Transport
	return clients.TransportConfig{
		BaseURL:  cfg.Upstream.ResolveBaseURL(),
		Email:    cfg.Upstream.Email,
		APIToken: cfg.Upstream.APIToken,
		Retry: clients.RetryPolicy{
			MaxAttempts:  t.MaxAttempts,
			InitialDelay: t.InitialDelay,
			MaxDelay:     t.MaxDelay,
			Multiplier:   t.Multiplier,
		},
		LowWaterMark:      t.LowWaterMark,
		Cooldown:          t.Cooldown,
		DefaultRetryAfter: t.DefaultRetryAfter,
		RemainingHeader:   t.RemainingHeader,
		RequestTimeout:    t.Timeout,
		MaxIdleConns:      t.MaxIdleConns,
		EnableHTTP2:       t.EnableHTTP2,
		UserAgent:         "deskstream/" + version,
	}
}

func paginatorConfig(cfg *config.Config) zendesk.Config {
	return zendesk.Config{
		StreamPath:   cfg.Upstream.StreamPath,
		CommentsPath: cfg.Upstream.CommentsPath,
		Lookback:     cfg.Upstream.Lookback,
	}
}
