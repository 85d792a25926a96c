package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/classify"
	"github.com/campdesk/labelbridge/internal/compose"
	"github.com/campdesk/labelbridge/internal/invoice"
	"github.com/campdesk/labelbridge/internal/journal"
)

// ManualLabel describes a label typed in by the front desk, e.g. to replace a
// torn one. Copies nil means "as many as the code implies".
type ManualLabel struct {
	Code           string `json:"code"`
	VariableSymbol string `json:"variable_symbol"`
	ToDate         string `json:"to_date"`
	Year           string `json:"year"`
	Copies         *int   `json:"copies,omitempty"`
}

// Reprint renders and prints a label from a composed code without any
// source document. The code must tokenize against the rule set's labels.
func (p *Pipeline) Reprint(ctx context.Context, m ManualLabel) (*Result, error) {
	start := time.Now()
	ctx, span := p.telemetry.StartSpan(ctx, "labelbridge.reprint", map[string]interface{}{
		"code": m.Code,
	})
	defer span.End()

	tokens, err := compose.Parse(m.Code, p.rules.Labels(), p.rules.FlagLabel())
	if err != nil {
		return nil, err
	}
	copies := tokens.PrintCount()
	if m.Copies != nil {
		if *m.Copies < 0 {
			return nil, fmt.Errorf("copies must not be negative, got %d", *m.Copies)
		}
		copies = *m.Copies
	}

	res := newResult("manual")
	logger := p.logger.With(zap.String("source", "manual"), zap.String("document_id", res.Document.ID))
	logger.Info("manual label requested", zap.String("code", tokens.String()), zap.Int("copies", copies))

	year := m.Year
	if year == "" {
		year = strconv.Itoa(p.cfg.Year)
	}
	vs := m.VariableSymbol
	if vs == "" {
		vs = invoice.Unknown
	}
	toDate := m.ToDate
	if toDate == "" {
		toDate = invoice.Unknown
	}
	res.Fields = invoice.Fields{VariableSymbol: vs, FromDate: invoice.Unknown, ToDate: toDate, Year: year}
	res.Match, res.Output = matchFromTokens(tokens, p.rules.FlagLabel())

	d := &res.Document
	d.VariableSymbol = res.Fields.VariableSymbol
	d.FromDate = res.Fields.FromDate
	d.ToDate = res.Fields.ToDate
	d.Year = res.Fields.Year
	d.Code = res.Output.Code
	d.PrintCount = copies
	d.Flag = res.Match.Flag
	d.Counts = res.Match.Counts()

	opts := runOptions{print: true}
	img, labelPath, err := p.renderLabel(p.labelData(res))
	if err != nil {
		return p.fail(ctx, logger, res, start, opts, fmt.Errorf("render label: %w", err))
	}
	res.Document.LabelPath = labelPath

	if err := p.print(ctx, logger, res, img, copies); err != nil {
		return p.fail(ctx, logger, res, start, opts, err)
	}
	res.Document.Status = journal.StatusProcessed
	p.finish(ctx, logger, res, start)
	return res, nil
}

// matchFromTokens rebuilds a match result from a parsed code. Every token of
// a manual code counts as a standard label.
func matchFromTokens(tokens compose.Tokens, flagLabel string) (classify.MatchResult, compose.Output) {
	m := classify.MatchResult{FlagLabel: flagLabel}
	for _, t := range tokens {
		if t.Flag {
			m.Flag = true
			continue
		}
		m.Standard = append(m.Standard, classify.Count{Label: t.Label, Value: t.Count})
	}
	return m, compose.FromMatch(m)
}
