package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/deskstream/internal/pipeline"
	"github.com/ajitpratap0/deskstream/pkg/config"
	"github.com/ajitpratap0/deskstream/pkg/connector/destinations"
	"github.com/ajitpratap0/deskstream/pkg/connector/sources/zendesk"
	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const startDateLayout = "2006-01-02"

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	var (
		startDate string
		noResume  bool
		limit     int64
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Copy the full ticket history into the sink",
		Long: `Stream every ticket from the export API into the sink, saving a checkpoint
after each committed batch. A later run resumes from the last checkpoint
unless --no-resume or --start-date is given.

Example:
  deskstream backfill --start-date 2023-01-01 --limit 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bopts, err := backfillOptions(startDate, noResume, limit)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				comp, err := a.openComponents(ctx)
				if err != nil {
					return err
				}
				defer func() {
					if err := comp.Close(); err != nil {
						a.log.Warn("failed to close stores", zap.Error(err))
					}
				}()

				bf := pipeline.NewBackfill(a.cfg.Backfill, a.sourceFactory(), comp.sink, comp.store, a.log)
				report, err := bf.Run(ctx, bopts)
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "Start a fresh backfill at this UTC date (YYYY-MM-DD), ignoring any checkpoint")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Ignore the saved checkpoint and start from the lookback window")
	cmd.Flags().Int64Var(&limit, "limit", 0, "Stop after this many tickets (0 means no limit)")
	return cmd
}

func backfillOptions(startDate string, noResume bool, limit int64) (pipeline.BackfillOptions, error) {
	if limit < 0 {
		return pipeline.BackfillOptions{}, deskerrors.New(deskerrors.ErrorTypeConfig, "--limit cannot be negative")
	}
	bopts := pipeline.BackfillOptions{Resume: !noResume, Limit: limit}
	if startDate != "" {
		t, err := time.ParseInLocation(startDateLayout, startDate, time.UTC)
		if err != nil {
			return pipeline.BackfillOptions{}, deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "--start-date must be YYYY-MM-DD")
		}
		bopts.StartTime = t
	}
	return bopts, nil
}

func newIncrementalCmd(opts *rootOptions) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "incremental",
		Short: "Sync tickets changed since the last run",
		Long: `Upsert every ticket changed since the previous incremental run. The first
run looks back over incremental.window. With --every the sync repeats on
that interval until interrupted; a failed run is logged and retried on the
next tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				interval := a.cfg.Incremental.Interval
				if cmd.Flags().Changed("every") {
					interval = every
				}
				if interval < 0 {
					return deskerrors.New(deskerrors.ErrorTypeConfig, "--every cannot be negative")
				}

				comp, err := a.openComponents(ctx)
				if err != nil {
					return err
				}
				defer func() {
					if err := comp.Close(); err != nil {
						a.log.Warn("failed to close stores", zap.Error(err))
					}
				}()

				inc := pipeline.NewIncremental(a.cfg.Incremental, a.sourceFactory(), comp.sink, comp.store, a.log)
				runOnce := func(ctx context.Context) error {
					report, err := inc.Run(ctx)
					printReport(cmd.OutOrStdout(), report)
					return err
				}
				if interval == 0 {
					return runOnce(ctx)
				}

				a.log.Info("scheduling incremental sync", zap.Duration("interval", interval))
				err = pipeline.Every(ctx, interval, a.log, runOnce)
				if ctx.Err() != nil {
					// Interrupted by signal
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "Repeat the sync on this interval, e.g. 15m (overrides incremental.interval)")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify API connectivity and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := zendesk.Open(transportConfig(a.cfg), paginatorConfig(a.cfg), a.log)
				if err != nil {
					return err
				}
				defer src.Close()

				out := cmd.OutOrStdout()
				ticket, err := src.Probe(ctx)
				if err != nil {
					fmt.Fprintln(out, color.RedString("✗ %s unreachable", a.cfg.Upstream.ResolveBaseURL()))
					return err
				}
				fmt.Fprintln(out, color.GreenString("✓ connected to %s", a.cfg.Upstream.ResolveBaseURL()))
				if ticket == nil {
					fmt.Fprintln(out, color.YellowString("  no tickets in the lookback window"))
					return nil
				}
				fmt.Fprintf(out, "  first ticket: #%d updated %s\n", ticket.ID, ticket.UpdatedAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newSetupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the raw tickets table in the configured sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				backend, err := destinations.Open(ctx, a.cfg.Sink, a.log)
				if err != nil {
					return err
				}
				defer backend.Close()

				out := cmd.OutOrStdout()
				provisioned, err := destinations.Provision(ctx, backend)
				if err != nil {
					return err
				}
				if !provisioned {
					fmt.Fprintln(out, color.YellowString("sink %q needs no setup", a.cfg.Sink.Type))
					return nil
				}
				fmt.Fprintln(out, color.GreenString("✓ %s sink ready", a.cfg.Sink.Type))
				return nil
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			if opts.metricsAddr != "" {
				cfg.Metrics.Addr = opts.metricsAddr
			}
			data, err := config.Dump(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, string(data))
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(out, color.YellowString("⚠ %v", err))
			}
			return nil
		},
	}
}
