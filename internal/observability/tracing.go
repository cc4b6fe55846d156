package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter       string  `yaml:"exporter" mapstructure:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint" mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" mapstructure:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `yaml:"service_version" mapstructure:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NoopTracer returns a provider whose spans are discarded.
func NoopTracer() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("smartsched")}
}

// NewTracerProvider creates a new tracer provider
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return NoopTracer(), nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "smartsched"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("smartsched"),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp != nil && tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a span tagged with the session carried by ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		return NoopTracer().StartSpan(ctx, name, attrs...)
	}
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Span names
const (
	SpanTurn          = "smartsched.turn"
	SpanCalendarRead  = "smartsched.calendar.read"
	SpanCalendarWrite = "smartsched.calendar.write"
	SpanExtract       = "smartsched.extract"
	SpanHTTPRequest   = "smartsched.http.request"
)

// Attribute keys
const (
	AttrSessionID = "smartsched.session_id"
	AttrPhase     = "smartsched.phase"
	AttrAction    = "smartsched.action"
	AttrStep      = "smartsched.relaxation_step"
	AttrErrorKind = "smartsched.error_kind"
	AttrExtractor = "smartsched.extractor"
	AttrCalendar  = "smartsched.calendar"
)

// TurnAttrs describes the outcome of a turn.
func TurnAttrs(phase, action, step string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPhase, phase),
		attribute.String(AttrAction, action),
	}
	if step != "" {
		attrs = append(attrs, attribute.String(AttrStep, step))
	}
	return attrs
}
