package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/archive"
	"github.com/campdesk/labelbridge/internal/classify"
	"github.com/campdesk/labelbridge/internal/config"
	"github.com/campdesk/labelbridge/internal/events"
	"github.com/campdesk/labelbridge/internal/extract"
	"github.com/campdesk/labelbridge/internal/invoice"
	"github.com/campdesk/labelbridge/internal/journal"
	"github.com/campdesk/labelbridge/internal/label"
	"github.com/campdesk/labelbridge/internal/pipeline"
	"github.com/campdesk/labelbridge/internal/printer"
	"github.com/campdesk/labelbridge/internal/telemetry"
)

// app owns everything a command needs to run the pipeline.
type app struct {
	pipeline  *pipeline.Pipeline
	renderer  *label.Renderer
	journal   *journal.Store
	events    *events.Emitter
	telemetry *telemetry.Provider
}

type buildOptions struct {
	print     bool
	archive   bool
	events    bool
	telemetry bool
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts buildOptions) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	rules, err := loadRules(cfg, logger)
	if err != nil {
		return nil, err
	}
	invoices, err := invoice.NewParser(cfg.Invoice)
	if err != nil {
		return nil, err
	}

	a.renderer, err = label.NewRenderer(cfg.Label)
	if err != nil {
		return nil, err
	}
	if a.renderer.UsesFallbackFont() {
		logger.Warn("label font not found; using the built-in Go Bold font", zap.String("font_path", cfg.Label.FontPath))
	}

	var prn *printer.Printer
	if opts.print {
		prn, err = printer.New(cfg.Printer, logger.Named("printer"))
		if err != nil {
			return nil, fmt.Errorf("printer: %w", err)
		}
	}

	var arc *archive.Archive
	if opts.archive {
		arc = archive.New(cfg.Folders.Archive, logger.Named("archive"))
	}

	if cfg.Journal.Enabled {
		a.journal, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
	}

	if opts.events {
		a.events, err = events.FromConfig(cfg.Events, logger.Named("events"))
		if err != nil {
			return nil, err
		}
	}

	if opts.telemetry {
		a.telemetry, err = telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Telemetry, version), logger.Named("telemetry"))
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	a.pipeline, err = pipeline.New(pipeline.Options{
		Config:    cfg,
		Rules:     rules,
		Invoices:  invoices,
		Extractor: extract.NewDefault(),
		Renderer:  a.renderer,
		Printer:   prn,
		Archive:   arc,
		Journal:   a.journal,
		Events:    a.events,
		Telemetry: a.telemetry,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// loadRules compiles the rule table and reports ignored entries.
func loadRules(cfg *config.Config, logger *zap.Logger) (*classify.RuleSet, error) {
	rules, err := classify.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	for _, d := range rules.Skipped() {
		logger.Warn("rule skipped: pattern or label is empty",
			zap.String("pattern", d.Pattern),
			zap.String("label", d.Label),
		)
	}
	return rules, nil
}

func (a *app) Close(ctx context.Context) {
	if a == nil {
		return
	}
	a.events.Close(ctx)
	a.telemetry.Shutdown(ctx)
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.renderer != nil {
		_ = a.renderer.Close()
	}
}
