package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/classify"
	"github.com/campdesk/labelbridge/internal/config"
)

const instrumentationName = "github.com/campdesk/labelbridge"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// FromConfig maps the telemetry section of the config file.
func FromConfig(c config.TelemetryConfig, version string) Config {
	return Config{
		Enabled:  c.Enabled,
		Endpoint: c.Endpoint,
		Protocol: c.Protocol,
		Service:  "labelbridge",
		Version:  version,
	}
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	documentsCounter      metric.Int64Counter
	labelsPrintedCounter  metric.Int64Counter
	ruleHitsCounter       metric.Int64Counter
	processingDuration    metric.Float64Histogram
	stageDuration         metric.Float64Histogram
	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTEL exporters + providers. When disabled, returns no-op providers.
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return newProvider(tracenoop.NewTracerProvider().Tracer(""), metricnoop.NewMeterProvider().Meter("")), nil
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol != "" && protocol != "grpc" && protocol != "http" {
		return nil, fmt.Errorf("telemetry: unknown protocol %q (want grpc or http)", cfg.Protocol)
	}

	logger.Info("telemetry enabled; if no collector is listening, periodic export warnings are expected",
		zap.String("protocol", protocol),
		zap.String("endpoint", cfg.Endpoint),
	)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	var traceExp sdktrace.SpanExporter
	var metricExp sdkmetric.Exporter
	switch protocol {
	case "", "grpc":
		traceExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, err
		}
		metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, err
		}
	case "http":
		traceExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, err
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	p := newProvider(tp.Tracer(instrumentationName), mp.Meter(instrumentationName))
	p.Enabled = true
	p.shutdownTraceProvider = tp.Shutdown
	p.shutdownMeterProvider = mp.Shutdown
	return p, nil
}

func newProvider(tracer trace.Tracer, meter metric.Meter) *Provider {
	p := &Provider{tracer: tracer, meter: meter}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	// Instrument errors are ignored; telemetry is best-effort.
	p.documentsCounter, _ = p.meter.Int64Counter("labelbridge_documents_total",
		metric.WithDescription("Documents processed, by final status"))
	p.labelsPrintedCounter, _ = p.meter.Int64Counter("labelbridge_labels_printed_total",
		metric.WithDescription("Label copies sent to the printer"))
	p.ruleHitsCounter, _ = p.meter.Int64Counter("labelbridge_rule_hits_total",
		metric.WithDescription("Classification hits per label"))
	p.processingDuration, _ = p.meter.Float64Histogram("labelbridge_processing_duration_ms",
		metric.WithUnit("ms"))
	p.stageDuration, _ = p.meter.Float64Histogram("labelbridge_stage_duration_ms",
		metric.WithUnit("ms"))
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// StartSpan starts a span carrying only attributes that pass SafeAttributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs map[string]interface{}) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(SafeAttributes(attrs)...))
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// RecordDocument emits the per-document counters and histograms.
func (p *Provider) RecordDocument(ctx context.Context, status string, durMs float64, printed int, counts []classify.Count) {
	if p == nil {
		return
	}
	statusAttr := metric.WithAttributes(attribute.String("labelbridge.status", status))
	p.documentsCounter.Add(ctx, 1, statusAttr)
	p.processingDuration.Record(ctx, durMs, statusAttr)
	if printed > 0 {
		p.labelsPrintedCounter.Add(ctx, int64(printed))
	}
	for _, c := range counts {
		if c.Value <= 0 {
			continue
		}
		p.ruleHitsCounter.Add(ctx, int64(c.Value), metric.WithAttributes(attribute.String("labelbridge.label", c.Label)))
	}
}

// RecordStage records how long one pipeline stage took.
func (p *Provider) RecordStage(ctx context.Context, stage string, durMs float64) {
	if p == nil {
		return
	}
	p.stageDuration.Record(ctx, durMs, metric.WithAttributes(attribute.String("labelbridge.stage", stage)))
}
