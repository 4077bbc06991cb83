package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/trendpress/internal/api"
	"github.com/FranksOps/trendpress/internal/journal"
	"github.com/FranksOps/trendpress/internal/metrics"
	"github.com/FranksOps/trendpress/internal/report"
	"github.com/FranksOps/trendpress/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the posts API and run the pipeline on schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := slog.Default()

			a, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.wirePipeline(ctx); err != nil {
				return err
			}

			sched, err := scheduler.New(scheduler.Config{
				PipelineSpec: cfg.Schedule.Pipeline,
				ClearSpec:    cfg.Schedule.Clear,
				Timezone:     cfg.Schedule.Timezone,
				RunOnStart:   cfg.Schedule.RunOnStart,
				ClearOnStart: cfg.Schedule.ClearOnStart,
			}, func(ctx context.Context) error {
				_, err := a.pipeline.Run(ctx)
				return err
			}, a.pipeline.ClearSeenQueries, logger)
			if err != nil {
				return err
			}

			srv := api.NewServer(a.store, api.Options{
				Addr:           net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
				AllowedOrigins: cfg.Server.AllowedOrigins,
				ImagesDir:      a.imageDir,
				Logger:         logger,
			})

			if err := sched.Start(ctx); err != nil {
				return err
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case <-ctx.Done():
				logger.Info("shutdown requested")
			case err = <-errc:
				if err != nil {
					logger.Error("api server stopped", "err", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("api shutdown", "err", serr)
			}
			select {
			case <-sched.Stop().Done():
			case <-shutdownCtx.Done():
				logger.Warn("scheduled jobs still running at shutdown")
			}
			return err
		},
	}
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := slog.Default()

			a, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.wirePipeline(ctx); err != nil {
				return err
			}

			if cfg.Metrics.Port > 0 {
				ms := metrics.Start(cfg.Metrics.Port, logger)
				defer ms.Stop(context.Background())
			}

			res, runErr := a.pipeline.Run(ctx)
			if res != nil {
				summary := report.GenerateSummary(res.Outcomes)
				if err := report.Write(cmd.OutOrStdout(), format, summary); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&format, "report", "text", "report format: text, json or html")
	return cmd
}

func newClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-queries",
		Short: "Forget every processed trend query",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openStores(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.seen.ClearSeen(ctx); err != nil {
				return fmt.Errorf("clear seen queries: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seen queries cleared")
			return nil
		},
	}
}

func newReportCmd() *cobra.Command {
	var (
		path   string
		runID  string
		format string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise pipeline outcomes recorded in a run journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := journal.Filter{RunID: runID}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			outcomes, err := journal.ReadFile(cmd.Context(), path, filter)
			if err != nil {
				return err
			}
			return report.Write(cmd.OutOrStdout(), format, report.GenerateSummary(outcomes))
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "NDJSON run journal to read")
	cmd.Flags().StringVar(&runID, "run", "", "only include this run id")
	cmd.Flags().StringVar(&format, "format", "text", "report format: text, json or html")
	cmd.Flags().DurationVar(&since, "since", 0, "only include outcomes newer than this")
	_ = cmd.MarkFlagRequired("journal")
	return cmd
}
