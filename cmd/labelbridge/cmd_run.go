package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campdesk/labelbridge/internal/auth"
	"github.com/campdesk/labelbridge/internal/pipeline"
	"github.com/campdesk/labelbridge/internal/redact"
	"github.com/campdesk/labelbridge/internal/server"
	"github.com/campdesk/labelbridge/internal/watch"
)

var (
	runNoPrint       bool
	runServe         bool
	runAddr          string
	runPurgeInterval time.Duration
)

// runCmd is the long-running front desk service.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the input folder and print a label for every invoice",
	Long: `Watches folders.input for new documents. Each document is classified,
its label is written to folders.output and printed, and the source is moved to
folders.archive. With server.enabled (or --serve) the HTTP API runs alongside.`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	runCmd.Flags().BoolVar(&runNoPrint, "no-print", false, "Render labels but do not print them")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "Start the HTTP API even if server.enabled is false")
	runCmd.Flags().StringVar(&runAddr, "addr", "", "HTTP listen address (overrides server.addr)")
	runCmd.Flags().DurationVar(&runPurgeInterval, "purge-interval", 24*time.Hour, "How often old archived documents are removed (0 disables)")
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Folders.Input, cfg.Folders.Archive, cfg.Folders.Output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	a, err := buildApp(ctx, cfg, logger, buildOptions{print: !runNoPrint, archive: true, events: true, telemetry: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	w, err := watch.New(watch.Options{
		Dir:          cfg.Folders.Input,
		Extensions:   cfg.Watch.Extensions,
		PollInterval: cfg.Watch.PollInterval,
		Debounce:     cfg.Watch.Debounce,
	}, logger.Named("watch"))
	if err != nil {
		return err
	}

	logger.Info("labelbridge started",
		zap.String("version", version),
		zap.String("input", cfg.Folders.Input),
		zap.String("archive", cfg.Folders.Archive),
		zap.String("output", cfg.Folders.Output),
		zap.String("printer", cfg.Printer.Backend),
		zap.Int("rules", a.pipeline.Rules().Len()),
		zap.Int("workers", cfg.Watch.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return a.pipeline.Run(gctx, w.Paths(), w.Done) })

	if cfg.Server.Enabled || runServe {
		authz, err := auth.NewFromConfig(cfg)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		srv := server.New(cfg, a.pipeline, authz, logger.Named("http"))
		g.Go(func() error { return srv.ListenAndServe(gctx, runAddr) })
	}

	if runPurgeInterval > 0 {
		g.Go(func() error { return purgeLoop(gctx, a.pipeline, runPurgeInterval) })
	}

	err = g.Wait()
	logger.Info("labelbridge stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// purgeLoop clears the archive once at startup and then every interval.
func purgeLoop(ctx context.Context, p *pipeline.Pipeline, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Purge(time.Now()); err != nil {
			logger.Warn("archive purge incomplete", redact.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
