package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/logging"
	"smartsched/internal/observability"
)

// ResilientConfig bounds each collaborator call.
type ResilientConfig struct {
	Name    string
	Timeout time.Duration
	Retry   schederrors.RetryConfig
	Breaker schederrors.CircuitBreakerConfig
}

// Resilient wraps a calendar with per-call timeouts, retries for reads, a
// circuit breaker, metrics and spans. Failures leave it wrapped in the
// negotiation sentinels so the controller can classify them.
type Resilient struct {
	inner   negotiation.Calendar
	name    string
	timeout time.Duration
	retry   schederrors.RetryConfig
	breaker *schederrors.CircuitBreaker
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// ResilientOption customizes a Resilient calendar.
type ResilientOption func(*Resilient)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) ResilientOption {
	return func(r *Resilient) { r.logger = logging.OrNop(logger) }
}

// WithMetrics records call counts and latency.
func WithMetrics(metrics *observability.MetricsCollector) ResilientOption {
	return func(r *Resilient) { r.metrics = metrics }
}

// WithTracer emits a span per call.
func WithTracer(tracer *observability.TracerProvider) ResilientOption {
	return func(r *Resilient) { r.tracer = tracer }
}

// NewResilient wraps inner.
func NewResilient(inner negotiation.Calendar, cfg ResilientConfig, opts ...ResilientOption) *Resilient {
	if cfg.Name == "" {
		cfg.Name = "calendar"
	}
	r := &Resilient{
		inner:   inner,
		name:    cfg.Name,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.breaker = schederrors.NewCircuitBreaker(cfg.Name, cfg.Breaker, r.logger)
	return r
}

// Breaker exposes the circuit breaker state for health reporting.
func (r *Resilient) Breaker() *schederrors.CircuitBreaker {
	return r.breaker
}

// BusyIntervals reads with retries under the breaker.
func (r *Resilient) BusyIntervals(ctx context.Context, from, to time.Time) (busy []scheduling.BusyInterval, err error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanCalendarRead,
		attribute.String(observability.AttrCalendar, r.name))
	started := time.Now()
	defer func() {
		r.metrics.RecordCalendarCall(ctx, "read", observability.StatusOf(err), time.Since(started))
		observability.EndSpan(span, err)
	}()

	busy, err = schederrors.ExecuteFunc(r.breaker, ctx, func(ctx context.Context) ([]scheduling.BusyInterval, error) {
		return schederrors.RetryWithResultAndLog(ctx, r.retry, func(ctx context.Context) ([]scheduling.BusyInterval, error) {
			callCtx, cancel := r.withTimeout(ctx)
			defer cancel()
			busy, err := r.inner.BusyIntervals(callCtx, from, to)
			return busy, r.markTransient(ctx, err)
		}, r.logger)
	})
	if err != nil {
		r.logger.Warn("calendar %s read failed: %v", r.name, err)
		return nil, r.classify(err)
	}
	return busy, nil
}

// CreateEvent writes once under the breaker. Writes are not retried since
// the calendar may have stored the event before the error surfaced.
func (r *Resilient) CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta negotiation.EventMetadata) (id string, err error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanCalendarWrite,
		attribute.String(observability.AttrCalendar, r.name))
	started := time.Now()
	defer func() {
		r.metrics.RecordCalendarCall(ctx, "write", observability.StatusOf(err), time.Since(started))
		observability.EndSpan(span, err)
	}()

	id, err = schederrors.ExecuteFunc(r.breaker, ctx, func(ctx context.Context) (string, error) {
		callCtx, cancel := r.withTimeout(ctx)
		defer cancel()
		return r.inner.CreateEvent(callCtx, window, meta)
	})
	if err != nil {
		r.logger.Warn("calendar %s write failed: %v", r.name, err)
		return "", r.classifyWrite(err)
	}
	return id, nil
}

func (r *Resilient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// markTransient makes per-call timeouts retryable while the caller's own
// deadline still stops the loop.
func (r *Resilient) markTransient(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return schederrors.NewTransientError(err, fmt.Sprintf("calendar %s timed out", r.name))
	}
	return err
}

func (r *Resilient) isAuthFailure(err error) bool {
	return errors.Is(err, negotiation.ErrAuthExpired) || schederrors.IsUnauthorized(err)
}

func (r *Resilient) classify(err error) error {
	if r.isAuthFailure(err) {
		if errors.Is(err, negotiation.ErrAuthExpired) {
			return err
		}
		return fmt.Errorf("%w: %w", negotiation.ErrAuthExpired, err)
	}
	if errors.Is(err, negotiation.ErrCalendarUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", negotiation.ErrCalendarUnavailable, r.name, err)
}

func (r *Resilient) classifyWrite(err error) error {
	if r.isAuthFailure(err) && !errors.Is(err, negotiation.ErrAuthExpired) {
		return fmt.Errorf("%w: %w", negotiation.ErrAuthExpired, err)
	}
	return err
}

var _ negotiation.Calendar = (*Resilient)(nil)
