// Package extraction turns user utterances into negotiation turns. The
// engine never sees raw language; everything it acts on comes through an
// Extractor.
package extraction

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	"smartsched/internal/logging"
	"smartsched/internal/observability"
)

// Request is everything an extractor may use to interpret one utterance.
type Request struct {
	Text     string
	Now      time.Time
	Location *time.Location
	Phase    negotiation.Phase
	// Events are known calendar entries that anchors may refer to.
	Events []scheduling.BusyInterval
	// Proposals are the windows currently on offer, in offer order.
	Proposals []scheduling.CandidateWindow
}

func (r Request) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// ambiguity is the flag a delta carries. A vague range is ambiguous. A delta
// that names days, a time of day, bounds or an anchor settles earlier
// ambiguity. Anything else, such as a duration-only change, leaves the flag
// absent so the previous reading stands.
func ambiguity(delta scheduling.TemporalConstraint, vague bool) *bool {
	if vague {
		return scheduling.Ptr(true)
	}
	if len(delta.Days) > 0 || delta.TimeOfDay != nil || delta.Earliest != nil ||
		delta.Latest != nil || delta.Anchor != nil {
		return scheduling.Ptr(false)
	}
	return nil
}

// Extractor interprets an utterance in the light of the conversation so far.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req Request) (negotiation.Turn, error)
}

// Chain tries extractors in order and returns the first success.
type Chain struct {
	extractors []Extractor
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithChainLogger sets the chain logger.
func WithChainLogger(logger logging.Logger) ChainOption {
	return func(c *Chain) { c.logger = logging.OrNop(logger) }
}

// WithChainMetrics records one extraction per attempt.
func WithChainMetrics(metrics *observability.MetricsCollector) ChainOption {
	return func(c *Chain) { c.metrics = metrics }
}

// WithChainTracer emits a span per attempt.
func WithChainTracer(tracer *observability.TracerProvider) ChainOption {
	return func(c *Chain) { c.tracer = tracer }
}

// NewChain builds a fallback chain; put the most capable extractor first.
func NewChain(extractors []Extractor, opts ...ChainOption) *Chain {
	c := &Chain{extractors: extractors, logger: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Extract(ctx context.Context, req Request) (negotiation.Turn, error) {
	var lastErr error
	for _, extractor := range c.extractors {
		spanCtx, span := c.tracer.StartSpan(ctx, observability.SpanExtract,
			attribute.String(observability.AttrExtractor, extractor.Name()))
		turn, err := extractor.Extract(spanCtx, req)
		observability.EndSpan(span, err)
		c.metrics.RecordExtraction(ctx, extractor.Name(), observability.StatusOf(err))
		if err == nil {
			return turn, nil
		}
		if ctx.Err() != nil {
			return negotiation.Turn{}, err
		}
		c.logger.Warn("extractor %s failed, falling back: %v", extractor.Name(), err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no extractors configured")
	}
	return negotiation.Turn{}, lastErr
}

var _ Extractor = (*Chain)(nil)
