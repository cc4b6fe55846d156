package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records negotiation metrics through OpenTelemetry and
// exposes them in Prometheus format. A zero collector drops everything.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	gatherer prometheus.Gatherer

	turns           metric.Int64Counter
	turnLatency     metric.Float64Histogram
	relaxations     metric.Int64Counter
	calendarCalls   metric.Int64Counter
	calendarLatency metric.Float64Histogram
	extractions     metric.Int64Counter
	sessionsActive  metric.Int64UpDownCounter

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// PrometheusPort starts a dedicated scrape server when positive. The HTTP
	// API serves /metrics either way.
	PrometheusPort int `yaml:"prometheus_port" mapstructure:"prometheus_port"`
}

// NewMetricsCollector creates a collector backed by its own Prometheus
// registry, so several collectors can coexist in tests.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("smartsched")

	collector := &MetricsCollector{meter: meter, provider: provider, gatherer: registry}
	if err := collector.register(); err != nil {
		return nil, err
	}

	if config.PrometheusPort > 0 {
		collector.StartPrometheusServer(config.PrometheusPort)
	}
	return collector, nil
}

func (m *MetricsCollector) register() error {
	var err error
	if m.turns, err = m.meter.Int64Counter(
		"smartsched.turns.total",
		metric.WithDescription("Negotiation turns by resulting action and phase"),
		metric.WithUnit("{turn}"),
	); err != nil {
		return fmt.Errorf("failed to create turns counter: %w", err)
	}
	if m.turnLatency, err = m.meter.Float64Histogram(
		"smartsched.turn.latency",
		metric.WithDescription("Turn handling latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create turn latency histogram: %w", err)
	}
	if m.relaxations, err = m.meter.Int64Counter(
		"smartsched.relaxations.total",
		metric.WithDescription("Proposals produced by each relaxation step"),
		metric.WithUnit("{proposal}"),
	); err != nil {
		return fmt.Errorf("failed to create relaxations counter: %w", err)
	}
	if m.calendarCalls, err = m.meter.Int64Counter(
		"smartsched.calendar.calls.total",
		metric.WithDescription("Calendar collaborator calls by operation and status"),
		metric.WithUnit("{call}"),
	); err != nil {
		return fmt.Errorf("failed to create calendar calls counter: %w", err)
	}
	if m.calendarLatency, err = m.meter.Float64Histogram(
		"smartsched.calendar.latency",
		metric.WithDescription("Calendar call latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create calendar latency histogram: %w", err)
	}
	if m.extractions, err = m.meter.Int64Counter(
		"smartsched.extractions.total",
		metric.WithDescription("Constraint extractions by extractor and status"),
		metric.WithUnit("{extraction}"),
	); err != nil {
		return fmt.Errorf("failed to create extractions counter: %w", err)
	}
	if m.sessionsActive, err = m.meter.Int64UpDownCounter(
		"smartsched.sessions.active",
		metric.WithDescription("Number of live negotiation sessions"),
		metric.WithUnit("{session}"),
	); err != nil {
		return fmt.Errorf("failed to create sessions gauge: %w", err)
	}
	return nil
}

// Handler serves the collector's registry in Prometheus text format, merged
// with the default registry that holds cache and runtime metrics.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(prometheus.Gatherers{m.gatherer, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}

// StartPrometheusServer serves /metrics on a dedicated port.
func (m *MetricsCollector) StartPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			NewLogger(LogConfig{}).Error("prometheus server stopped", "port", port, "error", err)
		}
	}()
}

// Shutdown stops the scrape server and flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.prometheusServer != nil {
		if err := m.prometheusServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// RecordTurn records one handled turn.
func (m *MetricsCollector) RecordTurn(ctx context.Context, action, phase string, latency time.Duration) {
	if m == nil || m.turns == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("phase", phase),
	)
	m.turns.Add(ctx, 1, attrs)
	m.turnLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("action", action)))
}

// RecordRelaxation counts a proposal by the step that produced it.
func (m *MetricsCollector) RecordRelaxation(ctx context.Context, step string) {
	if m == nil || m.relaxations == nil {
		return
	}
	m.relaxations.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// RecordCalendarCall records one calendar collaborator call.
func (m *MetricsCollector) RecordCalendarCall(ctx context.Context, op, status string, latency time.Duration) {
	if m == nil || m.calendarCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.calendarCalls.Add(ctx, 1, attrs)
	m.calendarLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordExtraction records one constraint extraction.
func (m *MetricsCollector) RecordExtraction(ctx context.Context, extractor, status string) {
	if m == nil || m.extractions == nil {
		return
	}
	m.extractions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("extractor", extractor),
		attribute.String("status", status),
	))
}

// IncrementActiveSessions increments the active sessions counter
func (m *MetricsCollector) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter
func (m *MetricsCollector) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}

// StatusOf labels a call outcome.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
