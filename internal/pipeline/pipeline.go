// Package pipeline turns one incoming invoice into a printed label: it reads
// the text, classifies it, renders and prints the label, archives the source
// and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campdesk/labelbridge/internal/archive"
	"github.com/campdesk/labelbridge/internal/classify"
	"github.com/campdesk/labelbridge/internal/compose"
	"github.com/campdesk/labelbridge/internal/config"
	"github.com/campdesk/labelbridge/internal/events"
	"github.com/campdesk/labelbridge/internal/extract"
	"github.com/campdesk/labelbridge/internal/invoice"
	"github.com/campdesk/labelbridge/internal/journal"
	"github.com/campdesk/labelbridge/internal/label"
	"github.com/campdesk/labelbridge/internal/printer"
	"github.com/campdesk/labelbridge/internal/redact"
	"github.com/campdesk/labelbridge/internal/telemetry"
	"github.com/campdesk/labelbridge/internal/watch"
)

// Options are the collaborators of a Pipeline. Config, Rules, Extractor and
// Renderer are required; the rest may be nil.
type Options struct {
	Config    *config.Config
	Rules     *classify.RuleSet
	Invoices  *invoice.Parser
	Extractor extract.Extractor
	Renderer  *label.Renderer
	Printer   *printer.Printer
	Archive   *archive.Archive
	Journal   *journal.Store
	Events    *events.Emitter
	Telemetry *telemetry.Provider
	Logger    *zap.Logger
}

type Pipeline struct {
	cfg       *config.Config
	rules     *classify.RuleSet
	invoices  *invoice.Parser
	extractor extract.Extractor
	renderer  *label.Renderer
	printer   *printer.Printer
	archive   *archive.Archive
	journal   *journal.Store
	events    *events.Emitter
	telemetry *telemetry.Provider
	logger    *zap.Logger
}

// Result is the outcome of one document.
type Result struct {
	Document    journal.Document     `json:"document"`
	Fields      invoice.Fields       `json:"invoice"`
	Match       classify.MatchResult `json:"match"`
	Output      compose.Output       `json:"output"`
	Blacklisted string               `json:"blacklisted,omitempty"`
	Timings     events.Timings       `json:"-"`
}

func New(o Options) (*Pipeline, error) {
	switch {
	case o.Config == nil:
		return nil, errors.New("pipeline: config is required")
	case o.Rules == nil:
		return nil, errors.New("pipeline: rule set is required")
	case o.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case o.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	}
	invoices := o.Invoices
	if invoices == nil {
		p, err := invoice.NewParser(o.Config.Invoice)
		if err != nil {
			return nil, err
		}
		invoices = p
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       o.Config,
		rules:     o.Rules,
		invoices:  invoices,
		extractor: o.Extractor,
		renderer:  o.Renderer,
		printer:   o.Printer,
		archive:   o.Archive,
		journal:   o.Journal,
		events:    o.Events,
		telemetry: o.Telemetry,
		logger:    logger,
	}, nil
}

// Rules returns the rule set the pipeline classifies with.
func (p *Pipeline) Rules() *classify.RuleSet { return p.rules }

// Journal returns the journal store, or nil when journaling is disabled.
func (p *Pipeline) Journal() *journal.Store { return p.journal }

type runOptions struct {
	print   bool
	archive bool
}

// Process handles one file from the input folder. The source always ends up
// in the archive, whatever its status. The returned error is non-nil when the
// document failed or ctx was cancelled; res is non-nil in both cases.
func (p *Pipeline) Process(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	ctx, span := p.telemetry.StartSpan(ctx, "labelbridge.process", map[string]interface{}{
		"source.ext": filepath.Ext(path),
	})
	defer span.End()

	res := newResult(path)
	logger := p.logger.With(zap.String("source", filepath.Base(path)), zap.String("document_id", res.Document.ID))
	opts := runOptions{print: true, archive: true}

	if err := watch.WaitReady(ctx, path, p.cfg.Watch.ReadyTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		logger.Warn("document not ready; archiving unprocessed", redact.Error(err))
		res.Document.Status = journal.StatusNotReady
		res.Document.Error = err.Error()
		p.archiveSource(logger, res)
		p.finish(ctx, logger, res, start)
		return res, nil
	}

	t0 := time.Now()
	text, err := p.extractor.Extract(ctx, path)
	res.Timings.Extract = time.Since(t0)
	p.telemetry.RecordStage(ctx, "extract", millis(res.Timings.Extract))
	if err != nil {
		return p.fail(ctx, logger, res, start, opts, fmt.Errorf("extract text: %w", err))
	}
	return p.run(ctx, logger, res, text, start, opts)
}

// ProcessUpload handles a document received over HTTP. Uploads are never
// archived and are printed only when wantPrint is true.
func (p *Pipeline) ProcessUpload(ctx context.Context, name string, r io.ReaderAt, size int64, wantPrint bool) (*Result, error) {
	start := time.Now()
	ctx, span := p.telemetry.StartSpan(ctx, "labelbridge.upload", map[string]interface{}{
		"print": wantPrint,
		"size":  size,
	})
	defer span.End()

	res := newResult("upload:" + filepath.Base(name))
	logger := p.logger.With(zap.String("source", res.Document.Source), zap.String("document_id", res.Document.ID))
	opts := runOptions{print: wantPrint}

	ex := p.extractor
	if sel, ok := ex.(extract.Selector); ok {
		if e := sel.For(name); e != nil {
			ex = e
		}
	}
	t0 := time.Now()
	text, err := ex.ExtractReader(ctx, r, size)
	res.Timings.Extract = time.Since(t0)
	if err != nil {
		return p.fail(ctx, logger, res, start, opts, fmt.Errorf("extract text: %w", err))
	}
	return p.run(ctx, logger, res, text, start, opts)
}

func (p *Pipeline) run(ctx context.Context, logger *zap.Logger, res *Result, text string, start time.Time, opts runOptions) (*Result, error) {
	logger.Debug("document text extracted", zap.String("preview", redact.Preview(text, 120)))

	if phrase, ok := invoice.Blacklisted(text, p.cfg.Blacklist); ok {
		logger.Info("document contains blacklisted text; skipping", zap.String("phrase", phrase))
		res.Blacklisted = phrase
		res.Document.Status = journal.StatusBlacklisted
		if opts.archive {
			p.archiveSource(logger, res)
		}
		p.finish(ctx, logger, res, start)
		return res, nil
	}

	t0 := time.Now()
	p.classifyInto(res, text)
	res.Timings.Classify = time.Since(t0)
	p.telemetry.RecordStage(ctx, "classify", millis(res.Timings.Classify))

	logger.Info("document classified",
		zap.String("variable_symbol", res.Fields.VariableSymbol),
		zap.String("code", res.Output.Code),
		zap.Int("print_count", res.Output.PrintCount),
		zap.Bool("flag", res.Match.Flag),
	)

	t0 = time.Now()
	img, labelPath, err := p.renderLabel(p.labelData(res))
	res.Timings.Render = time.Since(t0)
	p.telemetry.RecordStage(ctx, "render", millis(res.Timings.Render))
	if err != nil {
		return p.fail(ctx, logger, res, start, opts, fmt.Errorf("render label: %w", err))
	}
	res.Document.LabelPath = labelPath
	logger.Info("label created", zap.String("label", labelPath))

	var printErr error
	switch {
	case !opts.print:
	case res.Output.PrintCount <= 0:
		if res.Match.Empty() {
			logger.Warn("no rule matched; nothing to print")
		} else {
			logger.Warn("only the flag label matched; nothing to print", zap.String("code", res.Output.Code))
		}
	default:
		t0 = time.Now()
		printErr = p.print(ctx, logger, res, img, res.Output.PrintCount)
		res.Timings.Print = time.Since(t0)
		p.telemetry.RecordStage(ctx, "print", millis(res.Timings.Print))
	}

	if printErr != nil {
		return p.fail(ctx, logger, res, start, opts, printErr)
	}
	res.Document.Status = journal.StatusProcessed
	if opts.archive {
		p.archiveSource(logger, res)
	}
	p.finish(ctx, logger, res, start)
	return res, nil
}

// Classification is the result of classifying text without side effects.
type Classification struct {
	Fields      invoice.Fields       `json:"invoice"`
	Match       classify.MatchResult `json:"match"`
	Output      compose.Output       `json:"output"`
	Blacklisted string               `json:"blacklisted,omitempty"`
}

// Classify evaluates text against the rule set. Nothing is rendered, printed
// or recorded.
func (p *Pipeline) Classify(text string) Classification {
	res := &Result{}
	if phrase, ok := invoice.Blacklisted(text, p.cfg.Blacklist); ok {
		res.Blacklisted = phrase
	}
	p.classifyInto(res, text)
	return Classification{
		Fields:      res.Fields,
		Match:       res.Match,
		Output:      res.Output,
		Blacklisted: res.Blacklisted,
	}
}

func (p *Pipeline) classifyInto(res *Result, text string) {
	res.Fields = p.invoices.Extract(text, p.cfg.Year)
	res.Match = p.rules.Evaluate(text)
	res.Output = compose.FromMatch(res.Match)

	d := &res.Document
	d.VariableSymbol = res.Fields.VariableSymbol
	d.FromDate = res.Fields.FromDate
	d.ToDate = res.Fields.ToDate
	d.Year = res.Fields.Year
	d.Code = res.Output.Code
	d.PrintCount = res.Output.PrintCount
	d.Flag = res.Match.Flag
	d.Counts = res.Match.Counts()
}

func (p *Pipeline) labelData(res *Result) label.Data {
	return label.Data{
		Code:           res.Output.Code,
		VariableSymbol: res.Fields.VariableSymbol,
		ShortToDate:    res.Fields.ShortToDate(),
		ShortYear:      res.Fields.ShortYear(),
		Flag:           res.Match.Flag,
		FlagLabel:      res.Match.FlagLabel,
	}
}

func (p *Pipeline) renderLabel(d label.Data) (image.Image, string, error) {
	img, err := p.renderer.Render(d)
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(p.cfg.Folders.Output, label.FileName(d.VariableSymbol))
	if err := label.WritePNG(path, img); err != nil {
		return nil, "", fmt.Errorf("write %s: %w", path, err)
	}
	return img, path, nil
}

func (p *Pipeline) print(ctx context.Context, logger *zap.Logger, res *Result, img image.Image, copies int) error {
	if copies <= 0 {
		logger.Info("zero copies requested; nothing printed", zap.String("code", res.Output.Code))
		return nil
	}
	if p.printer == nil {
		logger.Debug("printing disabled", zap.Int("copies", copies))
		return nil
	}
	printed, err := p.printer.Print(ctx, img, copies)
	res.Document.Printed = printed
	if err != nil {
		return fmt.Errorf("print label: %w", err)
	}
	logger.Info("label printed", zap.Int("copies", printed), zap.String("backend", p.printer.Backend()))
	return nil
}

func (p *Pipeline) fail(ctx context.Context, logger *zap.Logger, res *Result, start time.Time, opts runOptions, err error) (*Result, error) {
	res.Document.Status = journal.StatusFailed
	res.Document.Error = err.Error()
	logger.Error("document failed", redact.Error(err))
	if opts.archive && ctx.Err() == nil {
		p.archiveSource(logger, res)
	}
	p.finish(ctx, logger, res, start)
	return res, err
}

func (p *Pipeline) archiveSource(logger *zap.Logger, res *Result) {
	if p.archive == nil {
		return
	}
	dst, err := p.archive.Move(res.Document.Source)
	if err != nil {
		logger.Error("archive failed", redact.Error(err))
		if res.Document.Error == "" {
			res.Document.Error = "archive: " + err.Error()
		}
		return
	}
	logger.Info("document archived", zap.String("archive", dst))
}

// finish journals the document, emits its event and records metrics. It runs
// on a context detached from cancellation so shutdown does not lose records.
func (p *Pipeline) finish(ctx context.Context, logger *zap.Logger, res *Result, start time.Time) {
	res.Timings.Total = time.Since(start)
	recordCtx := context.WithoutCancel(ctx)

	if p.journal != nil {
		if err := p.journal.Record(recordCtx, &res.Document); err != nil {
			logger.Error("journal record failed", redact.Error(err))
		}
	}

	ev := events.BuildEvent(res.Document, res.Timings)
	events.LogEvent(logger, ev)
	p.events.Emit(recordCtx, ev)

	p.telemetry.RecordDocument(recordCtx, string(res.Document.Status), millis(res.Timings.Total), res.Document.Printed, res.Document.Counts)
}

// Run processes paths until the channel closes or ctx is done, with at most
// cfg.Watch.Workers documents in flight. done is called with every path
// once its processing has finished.
func (p *Pipeline) Run(ctx context.Context, paths <-chan string, done func(string)) error {
	workers := p.cfg.Watch.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case path, ok := <-paths:
			if !ok {
				break loop
			}
			g.Go(func() error {
				if done != nil {
					defer done(path)
				}
				if _, err := p.Process(gctx, path); err != nil && gctx.Err() == nil {
					p.logger.Warn("document not completed", zap.String("source", filepath.Base(path)), redact.Error(err))
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// Purge removes archived documents older than the configured retention.
func (p *Pipeline) Purge(now time.Time) ([]string, error) {
	if p.archive == nil {
		return nil, nil
	}
	return p.archive.Purge(now, p.cfg.Archive.Retention)
}

func newResult(source string) *Result {
	return &Result{
		Document: journal.Document{
			ID:        uuid.NewString(),
			Source:    source,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
