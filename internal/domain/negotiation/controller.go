package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartsched/internal/domain/scheduling"
	"smartsched/internal/logging"
)

// Intent is the conversational move a turn makes besides supplying
// constraint information.
type Intent string

const (
	IntentNone   Intent = ""
	IntentAffirm Intent = "affirm"
	IntentReject Intent = "reject"
	IntentCancel Intent = "cancel"
)

// Turn is one already-extracted user message.
type Turn struct {
	Delta     scheduling.TemporalConstraint `json:"delta"`
	Selection *Selection                    `json:"selection,omitempty"`
	Intent    Intent                        `json:"intent,omitempty"`
	Metadata  EventMetadata                 `json:"metadata"`
	// Summary is recorded in the history; defaults to a description of the delta.
	Summary string `json:"summary,omitempty"`
	// Now overrides the controller clock for this turn.
	Now time.Time `json:"-"`
}

// Controller dispatches turns over the negotiation state machine.
type Controller struct {
	resolver  *scheduling.Resolver
	generator *scheduling.Generator
	reader    CalendarReader
	writer    CalendarWriter
	now       func() time.Time
	logger    logging.Logger
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logging.OrNop(logger)
	}
}

// NewController wires the pure scheduling engine to calendar collaborators.
func NewController(resolver *scheduling.Resolver, reader CalendarReader, writer CalendarWriter, opts ...Option) *Controller {
	c := &Controller{
		resolver:  resolver,
		generator: scheduling.NewGenerator(resolver),
		reader:    reader,
		writer:    writer,
		now:       time.Now,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolver exposes the policy the controller runs under.
func (c *Controller) Resolver() *scheduling.Resolver {
	return c.resolver
}

// HandleTurn merges the turn into a copy of conv, runs the phase logic and
// returns the new context with exactly one action. On an Error action the
// returned context is conv itself, unchanged. A nil conv starts a fresh
// Gathering conversation.
func (c *Controller) HandleTurn(ctx context.Context, conv *ConversationContext, turn Turn) (next *ConversationContext, action SystemAction) {
	now := turn.Now
	if now.IsZero() {
		now = c.now()
	}
	if conv == nil {
		conv = NewContext("", now)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("negotiation turn panicked for session %s: %v", conv.SessionID, r)
			next = conv
			action = Failure(scheduling.NewError(scheduling.KindInternal, fmt.Errorf("panic: %v", r)))
		}
	}()

	work := conv.Clone()
	if work.Phase.Terminal() && turn.Intent != IntentCancel {
		work.restart()
	}
	work.Metadata = work.Metadata.Merge(turn.Metadata)

	var err error
	if turn.Intent == IntentCancel {
		work.Phase = PhaseAbandoned
		work.Selected = nil
		action = Abandoned()
	} else {
		merged := scheduling.Merge(work.Constraint, turn.Delta)
		changed := !merged.Equal(work.Constraint)
		work.Constraint = merged
		action, err = c.dispatch(ctx, work, turn, changed, now)
	}
	if err != nil {
		failed := Failure(err)
		c.logger.Warn("negotiation turn failed for session %s in %s: %v", conv.SessionID, conv.Phase, err)
		return conv, failed
	}

	work.History = append(work.History, HistoryEntry{
		At:     now,
		Input:  summarize(turn),
		Action: action.Kind,
		Phase:  work.Phase,
	})
	work.UpdatedAt = now
	c.logger.Debug("session %s: %s -> %s (%s)", work.SessionID, conv.Phase, work.Phase, action.Kind)
	return work, action
}

func (c *Controller) dispatch(ctx context.Context, work *ConversationContext, turn Turn, changed bool, now time.Time) (SystemAction, error) {
	switch work.Phase {
	case PhaseGathering:
		return c.propose(ctx, work, now)
	case PhaseProposing:
		return c.handleProposing(ctx, work, turn, changed, now)
	case PhaseConfirming:
		return c.handleConfirming(ctx, work, turn, changed, now)
	default:
		return SystemAction{}, scheduling.NewError(scheduling.KindInternal, fmt.Errorf("unexpected phase %q", work.Phase))
	}
}

func (c *Controller) handleProposing(ctx context.Context, work *ConversationContext, turn Turn, changed bool, now time.Time) (SystemAction, error) {
	if changed {
		return c.propose(ctx, work, now)
	}
	if turn.Selection != nil && !turn.Selection.IsZero() {
		if picked, ok := turn.Selection.Match(work.LastProposals, c.resolver.Location()); ok {
			return c.confirm(work, picked), nil
		}
		return ProposeSlots(work.LastProposals, work.ProposalStep), nil
	}
	switch turn.Intent {
	case IntentAffirm:
		if len(work.LastProposals) == 1 {
			return c.confirm(work, work.LastProposals[0]), nil
		}
	case IntentReject:
		work.Rejected = appendUnique(work.Rejected, work.LastProposals...)
		return c.proposeMore(ctx, work, now)
	}
	// Unchanged constraint: re-offer without touching the calendar.
	return ProposeSlots(work.LastProposals, work.ProposalStep), nil
}

func (c *Controller) handleConfirming(ctx context.Context, work *ConversationContext, turn Turn, changed bool, now time.Time) (SystemAction, error) {
	if work.Selected == nil {
		return SystemAction{}, scheduling.NewError(scheduling.KindInternal, errors.New("confirming without a selected window"))
	}
	if changed {
		return c.propose(ctx, work, now)
	}
	switch turn.Intent {
	case IntentAffirm:
		return c.book(ctx, work)
	case IntentReject:
		work.Rejected = appendUnique(work.Rejected, *work.Selected)
		work.Selected = nil
		var remaining []scheduling.CandidateWindow
		for _, p := range work.LastProposals {
			if !containsSpan(work.Rejected, p) {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) > 0 {
			work.Phase = PhaseProposing
			work.LastProposals = remaining
			return ProposeSlots(remaining, work.ProposalStep), nil
		}
		return c.propose(ctx, work, now)
	}
	if turn.Selection != nil && !turn.Selection.IsZero() {
		if picked, ok := turn.Selection.Match(work.LastProposals, c.resolver.Location()); ok {
			return c.confirm(work, picked), nil
		}
	}
	return AskConfirm(*work.Selected), nil
}

func (c *Controller) confirm(work *ConversationContext, picked scheduling.CandidateWindow) SystemAction {
	work.Phase = PhaseConfirming
	work.Selected = &picked
	return AskConfirm(picked)
}

func (c *Controller) book(ctx context.Context, work *ConversationContext) (SystemAction, error) {
	window := *work.Selected
	eventID, err := c.writer.CreateEvent(ctx, window, work.Metadata)
	if err != nil {
		return SystemAction{}, classifyWrite(err)
	}
	work.Phase = PhaseBooked
	work.Booking = &Booking{EventID: eventID, Window: window}
	c.logger.Info("session %s booked %s-%s as %s", work.SessionID,
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339), eventID)
	return Booked(window, eventID), nil
}

// propose resolves the current constraint against the calendar and moves to
// Proposing, or back to Gathering when something is missing or nothing fits.
func (c *Controller) propose(ctx context.Context, work *ConversationContext, now time.Time) (SystemAction, error) {
	if missing := work.Constraint.MissingFields(); len(missing) > 0 {
		work.Phase = PhaseGathering
		work.Selected = nil
		return AskForInfo(missing...), nil
	}
	proposal, err := c.search(ctx, work, now)
	if err != nil {
		return c.gatherOnIncomplete(work, err)
	}
	if proposal.Empty() {
		work.Phase = PhaseGathering
		work.Selected = nil
		return NoAvailability(), nil
	}
	return c.enterProposing(work, proposal), nil
}

// proposeMore offers fresh alternatives after the user turned down the
// current ones. The current offer stays when nothing else exists.
func (c *Controller) proposeMore(ctx context.Context, work *ConversationContext, now time.Time) (SystemAction, error) {
	proposal, err := c.search(ctx, work, now)
	if err != nil {
		return c.gatherOnIncomplete(work, err)
	}
	if proposal.Empty() {
		return NoAvailability(), nil
	}
	return c.enterProposing(work, proposal), nil
}

// search returns free direct slots when there are any, otherwise the first
// relaxation that yields something. Rejected windows are never offered again.
func (c *Controller) search(ctx context.Context, work *ConversationContext, now time.Time) (scheduling.Proposal, error) {
	meta, err := c.readCalendar(ctx, work.Constraint, now)
	if err != nil {
		return scheduling.Proposal{}, err
	}
	limit := c.resolver.Config().MaxAlternatives

	slots, err := c.resolver.Candidates(work.Constraint, meta)
	if err != nil {
		return scheduling.Proposal{}, err
	}
	free, _ := scheduling.Partition(slots, meta.Events)
	if picked := scheduling.PickDisjoint(free, limit, work.Rejected); len(picked) > 0 {
		return scheduling.Proposal{Windows: picked, Step: scheduling.SourceDirect}, nil
	}
	return c.generator.Propose(work.Constraint, meta, meta.Events, limit, work.Rejected)
}

func (c *Controller) enterProposing(work *ConversationContext, proposal scheduling.Proposal) SystemAction {
	work.Phase = PhaseProposing
	work.LastProposals = cloneWindows(proposal.Windows)
	work.ProposalStep = proposal.Step
	work.Selected = nil
	if proposal.Step.IsRelaxed() {
		c.logger.Debug("session %s: relaxed constraint via %s", work.SessionID, proposal.Step)
	}
	return ProposeSlots(proposal.Windows, proposal.Step)
}

// gatherOnIncomplete turns an Incomplete outcome into a follow-up question
// and passes every other error through.
func (c *Controller) gatherOnIncomplete(work *ConversationContext, err error) (SystemAction, error) {
	if errors.Is(err, scheduling.ErrIncomplete) {
		work.Phase = PhaseGathering
		work.Selected = nil
		return AskForInfo(scheduling.MissingFieldsOf(err)...), nil
	}
	return SystemAction{}, err
}

func (c *Controller) readCalendar(ctx context.Context, constraint scheduling.TemporalConstraint, now time.Time) (scheduling.CalendarMeta, error) {
	if err := ctx.Err(); err != nil {
		return scheduling.CalendarMeta{}, classifyRead(err)
	}
	from, to := c.resolver.SearchRange(constraint, now)
	busy, err := c.reader.BusyIntervals(ctx, from, to)
	if err != nil {
		return scheduling.CalendarMeta{}, classifyRead(err)
	}
	return scheduling.CalendarMeta{Now: now, Events: busy}, nil
}

func classifyRead(err error) error {
	if errors.Is(err, ErrAuthExpired) {
		return scheduling.NewError(scheduling.KindAuthExpired, err)
	}
	return scheduling.NewError(scheduling.KindCalendarUnavailable, err)
}

func classifyWrite(err error) error {
	if errors.Is(err, ErrAuthExpired) {
		return scheduling.NewError(scheduling.KindAuthExpired, err)
	}
	return scheduling.NewError(scheduling.KindCalendarWriteFailed, err)
}

func appendUnique(dst []scheduling.CandidateWindow, windows ...scheduling.CandidateWindow) []scheduling.CandidateWindow {
	for _, w := range windows {
		if !containsSpan(dst, w) {
			dst = append(dst, w)
		}
	}
	return dst
}

func containsSpan(windows []scheduling.CandidateWindow, w scheduling.CandidateWindow) bool {
	for _, o := range windows {
		if o.SameSpan(w) {
			return true
		}
	}
	return false
}

func summarize(turn Turn) string {
	if turn.Summary != "" {
		return turn.Summary
	}
	var parts []string
	d := turn.Delta
	if d.Duration != nil {
		parts = append(parts, "duration="+d.Duration.String())
	}
	if d.Earliest != nil {
		parts = append(parts, "earliest="+d.Earliest.Format(time.RFC3339))
	}
	if d.Latest != nil {
		parts = append(parts, "latest="+d.Latest.Format(time.RFC3339))
	}
	if d.Days != nil {
		days := make([]string, 0, len(d.Days))
		for _, p := range d.Days {
			days = append(days, p.String())
		}
		parts = append(parts, "days="+strings.Join(days, ","))
	}
	if d.TimeOfDay != nil {
		parts = append(parts, "time_of_day="+string(*d.TimeOfDay))
	}
	if d.Anchor != nil {
		parts = append(parts, fmt.Sprintf("anchor=%s:%s", d.Anchor.Relation, anchorName(*d.Anchor)))
	}
	if d.IsAmbiguous() {
		parts = append(parts, "ambiguous")
	}
	if turn.Selection != nil && !turn.Selection.IsZero() {
		parts = append(parts, "selection")
	}
	if turn.Intent != IntentNone {
		parts = append(parts, "intent="+string(turn.Intent))
	}
	if len(parts) == 0 {
		return "(no new information)"
	}
	return strings.Join(parts, " ")
}

func anchorName(a scheduling.Anchor) string {
	if a.Label != "" {
		return a.Label
	}
	return a.EventID
}
