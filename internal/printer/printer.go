// Package printer encodes label images for Brother QL printers and sends
// them to the configured transport.
package printer

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/config"
)

// Printer prints label images. It does not retry failed jobs.
type Printer struct {
	backend   Backend
	model     Model
	media     Media
	maxCopies int
	logger    *zap.Logger
}

// New builds a printer from configuration.
func New(cfg config.PrinterConfig, logger *zap.Logger) (*Printer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	model, err := LookupModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	m, err := LookupMedia(cfg.LabelSize)
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "usb":
		backend = &DeviceBackend{Path: cfg.Device, Timeout: cfg.Timeout}
	case "file":
		backend = &DeviceBackend{Path: cfg.Device, Create: true, Timeout: cfg.Timeout}
	case "tcp":
		backend = &TCPBackend{Addr: cfg.Address, Timeout: cfg.Timeout}
	case "spool":
		backend = &SpoolBackend{Dir: cfg.SpoolDir}
	case "none":
		backend = NoneBackend{}
	default:
		return nil, fmt.Errorf("unknown printer backend %q", cfg.Backend)
	}
	return NewWithBackend(backend, model, m, cfg.MaxCopies, logger), nil
}

func NewWithBackend(b Backend, model Model, m Media, maxCopies int, logger *zap.Logger) *Printer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Printer{backend: b, model: model, media: m, maxCopies: maxCopies, logger: logger}
}

func (p *Printer) Backend() string { return p.backend.Name() }

// Print sends img copies times and returns the number of copies sent.
// Copies above the configured maximum are capped.
func (p *Printer) Print(ctx context.Context, img image.Image, copies int) (int, error) {
	if copies <= 0 {
		return 0, nil
	}
	if p.maxCopies > 0 && copies > p.maxCopies {
		p.logger.Warn("print copies capped",
			zap.Int("requested", copies),
			zap.Int("max_copies", p.maxCopies),
		)
		copies = p.maxCopies
	}

	job, err := Encode(img, p.model, p.media)
	if err != nil {
		return 0, fmt.Errorf("encode label: %w", err)
	}

	for i := 0; i < copies; i++ {
		if err := p.backend.Send(ctx, job); err != nil {
			return i, fmt.Errorf("print copy %d/%d via %s: %w", i+1, copies, p.backend.Name(), err)
		}
	}
	p.logger.Debug("label printed",
		zap.String("backend", p.backend.Name()),
		zap.String("model", p.model.Name),
		zap.Int("copies", copies),
		zap.Int("job_bytes", len(job)),
	)
	return copies, nil
}
