// Package negotiator is the application service behind every delivery
// surface. It owns session persistence and turn ordering around the
// negotiation controller.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/infra/extraction"
	"smartsched/internal/logging"
	"smartsched/internal/observability"
)

// Result is the outcome of one turn. Context is the state after the turn;
// on an Error action it is the unchanged state from before it.
type Result struct {
	SessionID string                           `json:"session_id"`
	Turn      negotiation.Turn                 `json:"turn"`
	Action    negotiation.SystemAction         `json:"action"`
	Context   *negotiation.ConversationContext `json:"context"`
}

// Service runs turns for many sessions concurrently. Turns of one session
// are serialized.
type Service struct {
	store      negotiation.SessionStore
	controller *negotiation.Controller
	extractor  extraction.Extractor
	events     negotiation.CalendarReader
	locks      *sessionLocks
	now        func() time.Time
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(logger) }
}

// WithMetrics records turns, relaxations and active sessions.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithTracer emits one span per turn.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithEventSource lets extraction resolve "before/after my <event>" against
// calendar entries.
func WithEventSource(events negotiation.CalendarReader) Option {
	return func(s *Service) { s.events = events }
}

// New builds the service.
func New(store negotiation.SessionStore, controller *negotiation.Controller, extractor extraction.Extractor, opts ...Option) *Service {
	s := &Service{
		store:      store,
		controller: controller,
		extractor:  extractor,
		locks:      newSessionLocks(),
		now:        time.Now,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleTurn applies an already-structured turn to a session, creating the
// session when it does not exist.
func (s *Service) HandleTurn(ctx context.Context, sessionID string, turn negotiation.Turn) (Result, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	conv, isNew, err := s.load(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if turn.Now.IsZero() {
		turn.Now = s.now()
	}
	return s.apply(ctx, conv, isNew, turn)
}

var eventReference = regexp.MustCompile(`(?i)\b(before|after)\b`)

// HandleUtterance extracts a turn from free text in the context of the
// session and applies it.
func (s *Service) HandleUtterance(ctx context.Context, sessionID, text string) (Result, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	conv, isNew, err := s.load(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	resolver := s.controller.Resolver()
	req := extraction.Request{
		Text:     text,
		Now:      now,
		Location: resolver.Location(),
		Phase:    conv.Phase,
	}
	if conv.Phase.Terminal() {
		req.Phase = negotiation.PhaseGathering
	} else {
		req.Proposals = conv.LastProposals
	}
	if s.events != nil && eventReference.MatchString(text) {
		local := now.In(resolver.Location())
		from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, resolver.Location())
		to := now.AddDate(0, 0, resolver.Config().MaxHorizonDays)
		events, err := s.events.BusyIntervals(ctx, from, to)
		if err != nil {
			logging.WithSession(s.logger, sessionID).Warn("loading events for anchor lookup failed: %v", err)
		} else {
			req.Events = events
		}
	}

	turn, err := s.extractor.Extract(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("extract turn: %w", err)
	}
	turn.Now = now
	return s.apply(ctx, conv, isNew, turn)
}

// Session returns a copy of the stored conversation.
func (s *Service) Session(ctx context.Context, sessionID string) (*negotiation.ConversationContext, error) {
	return s.store.Get(ctx, sessionID)
}

// Clear abandons the negotiation and deletes the session. The returned
// result carries the final Abandoned state.
func (s *Service) Clear(ctx context.Context, sessionID string) (Result, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	conv, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	turn := negotiation.Turn{Intent: negotiation.IntentCancel, Summary: "session cleared", Now: s.now()}
	next, action := s.controller.HandleTurn(ctx, conv, turn)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return Result{}, fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	s.metrics.DecrementActiveSessions(ctx)
	logging.WithSession(s.logger, sessionID).Info("session cleared in phase %s", conv.Phase)
	return Result{SessionID: sessionID, Turn: turn, Action: action, Context: next}, nil
}

// SessionEvicted keeps the active-session gauge in step with stores that
// drop idle sessions on their own.
func (s *Service) SessionEvicted(sessionID string) {
	s.metrics.DecrementActiveSessions(context.Background())
	s.logger.Debug("session %s evicted", sessionID)
}

func (s *Service) load(ctx context.Context, sessionID string) (*negotiation.ConversationContext, bool, error) {
	conv, err := s.store.Get(ctx, sessionID)
	switch {
	case err == nil:
		return conv, false, nil
	case errors.Is(err, negotiation.ErrSessionNotFound):
		return negotiation.NewContext(sessionID, s.now()), true, nil
	default:
		return nil, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
}

func (s *Service) apply(ctx context.Context, conv *negotiation.ConversationContext, isNew bool, turn negotiation.Turn) (result Result, err error) {
	started := time.Now()
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanTurn,
		attribute.String(observability.AttrSessionID, conv.SessionID))
	defer func() { observability.EndSpan(span, err) }()

	logger := logging.WithSession(s.logger, conv.SessionID)
	next, action := s.controller.HandleTurn(ctx, conv, turn)
	span.SetAttributes(observability.TurnAttrs(string(next.Phase), string(action.Kind), string(action.Step))...)

	if action.IsError() {
		span.SetAttributes(attribute.String(observability.AttrErrorKind, string(action.ErrorKind)))
		logger.Warn("turn failed with %s: %v", action.ErrorKind, action.Cause)
	} else {
		if err := s.store.Put(ctx, next); err != nil {
			return Result{}, fmt.Errorf("save session %s: %w", conv.SessionID, err)
		}
		if isNew {
			s.metrics.IncrementActiveSessions(ctx)
		}
	}

	s.metrics.RecordTurn(ctx, string(action.Kind), string(next.Phase), time.Since(started))
	if action.Kind == negotiation.ActionProposeSlots {
		s.metrics.RecordRelaxation(ctx, string(action.Step))
	}
	logger.Info("turn %s: %s -> %s", action.Kind, conv.Phase, next.Phase)
	return Result{SessionID: conv.SessionID, Turn: turn, Action: action, Context: next}, nil
}
