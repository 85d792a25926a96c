// Package events delivers per-document processing events to external sinks.
package events

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/classify"
	"github.com/campdesk/labelbridge/internal/journal"
	"github.com/campdesk/labelbridge/internal/redact"
)

const Version = "1"

// InvoiceInfo is the invoice data carried by an event.
type InvoiceInfo struct {
	VariableSymbol string `json:"variable_symbol"`
	FromDate       string `json:"from_date"`
	ToDate         string `json:"to_date"`
	Year           string `json:"year"`
}

type Summary struct {
	Code       string `json:"code"`
	PrintCount int    `json:"print_count"`
	Printed    int    `json:"printed"`
	Flag       bool   `json:"flag"`
}

type TimingMs struct {
	Extract  float64 `json:"extract"`
	Classify float64 `json:"classify"`
	Render   float64 `json:"render"`
	Print    float64 `json:"print"`
	Total    float64 `json:"total"`
}

// Event is the canonical document event payload.
type Event struct {
	Version    string           `json:"version"`
	Timestamp  time.Time        `json:"timestamp"`
	DocumentID string           `json:"document_id"`
	Source     string           `json:"source"`
	Status     journal.Status   `json:"status"`
	Summary    Summary          `json:"summary"`
	Counts     []classify.Count `json:"counts,omitempty"`
	Invoice    InvoiceInfo      `json:"invoice"`
	Error      string           `json:"error,omitempty"`
	TimingMs   TimingMs         `json:"timing_ms"`
}

// Timings are the stage durations of one document.
type Timings struct {
	Extract  time.Duration
	Classify time.Duration
	Render   time.Duration
	Print    time.Duration
	Total    time.Duration
}

// BuildEvent creates the event for a journaled document.
func BuildEvent(doc journal.Document, t Timings) *Event {
	ts := doc.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Event{
		Version:    Version,
		Timestamp:  ts.UTC(),
		DocumentID: doc.ID,
		Source:     doc.Source,
		Status:     doc.Status,
		Summary: Summary{
			Code:       doc.Code,
			PrintCount: doc.PrintCount,
			Printed:    doc.Printed,
			Flag:       doc.Flag,
		},
		Counts: cloneCounts(doc.Counts),
		Invoice: InvoiceInfo{
			VariableSymbol: doc.VariableSymbol,
			FromDate:       doc.FromDate,
			ToDate:         doc.ToDate,
			Year:           doc.Year,
		},
		Error: redact.String(doc.Error),
		TimingMs: TimingMs{
			Extract:  durationMillis(t.Extract),
			Classify: durationMillis(t.Classify),
			Render:   durationMillis(t.Render),
			Print:    durationMillis(t.Print),
			Total:    durationMillis(t.Total),
		},
	}
}

// LogEvent writes the event as JSON at debug level.
func LogEvent(logger *zap.Logger, ev *Event) {
	if ev == nil || logger == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("events: failed to marshal event", zap.Error(err))
		return
	}
	logger.Debug("events: document event", zap.String("event", redact.String(string(data))))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func cloneCounts(in []classify.Count) []classify.Count {
	if len(in) == 0 {
		return nil
	}
	out := make([]classify.Count, len(in))
	copy(out, in)
	return out
}
