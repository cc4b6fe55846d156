package negotiator

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	"smartsched/internal/infra/calendar"
	"smartsched/internal/infra/extraction"
	"smartsched/internal/infra/sessionstore"
	"smartsched/internal/observability"
)

// 2026-02-02 is a Monday.
func date(day, hour, min int) time.Time {
	return time.Date(2026, 2, day, hour, min, 0, 0, time.UTC)
}

type fixture struct {
	svc     *Service
	cal     *calendar.Memory
	store   negotiation.SessionStore
	metrics *observability.MetricsCollector
}

func newFixture(t *testing.T, store negotiation.SessionStore) fixture {
	t.Helper()
	now := date(2, 7, 0)
	cal, err := calendar.NewMemory("primary", calendar.Event{
		ID: "ev-standup", Title: "Team standup", Start: date(2, 9, 0), End: date(2, 9, 30),
	})
	require.NoError(t, err)
	if store == nil {
		store = sessionstore.NewMemory(sessionstore.MemoryConfig{MaxSessions: 100}, nil)
	}
	resolver, err := scheduling.NewResolver(scheduling.DefaultConfig())
	require.NoError(t, err)
	clock := func() time.Time { return now }
	ctrl := negotiation.NewController(resolver, cal, cal, negotiation.WithClock(clock))
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: true})
	require.NoError(t, err)

	svc := New(store, ctrl, extraction.NewRules(),
		WithClock(clock),
		WithEventSource(cal),
		WithMetrics(metrics),
		WithTracer(observability.NoopTracer()),
	)
	return fixture{svc: svc, cal: cal, store: store, metrics: metrics}
}

func TestUtteranceConversationBooksAnEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.HandleUtterance(ctx, "s-1", `30 minutes tomorrow morning called "Planning"`)
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionProposeSlots, res.Action.Kind)
	require.Len(t, res.Action.Windows, 3)
	assert.Equal(t, date(3, 9, 0), res.Action.Windows[0].Start)
	assert.Equal(t, date(3, 9, 30), res.Action.Windows[1].Start)
	assert.Equal(t, negotiation.PhaseProposing, res.Context.Phase)

	res, err = f.svc.HandleUtterance(ctx, "s-1", "the second one")
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionAskConfirm, res.Action.Kind)
	assert.Equal(t, date(3, 9, 30), res.Action.Window.Start)

	res, err = f.svc.HandleUtterance(ctx, "s-1", "yes")
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionBooked, res.Action.Kind)
	assert.NotEmpty(t, res.Action.EventID)

	events := f.cal.Events()
	require.Len(t, events, 2)
	var booked calendar.Event
	for _, ev := range events {
		if ev.ID == res.Action.EventID {
			booked = ev
		}
	}
	assert.Equal(t, "Planning", booked.Title)
	assert.Equal(t, date(3, 9, 30), booked.Start)

	conv, err := f.svc.Session(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, negotiation.PhaseBooked, conv.Phase)
	assert.Len(t, conv.History, 3)

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `action="propose_slots"`)
	assert.Contains(t, string(body), `action="booked"`)
}

func TestUtteranceResolvesAnchorsFromCalendar(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.HandleUtterance(context.Background(), "s-anchor", "30 minutes right after the standup")
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionProposeSlots, res.Action.Kind)
	assert.Equal(t, date(2, 9, 30), res.Action.Windows[0].Start)
	require.NotNil(t, res.Context.Constraint.Anchor)
	assert.Equal(t, "ev-standup", res.Context.Constraint.Anchor.EventID)
}

func TestUtteranceNarrowsAnAmbiguousWeek(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.HandleUtterance(ctx, "s-week", "30 minutes sometime next week")
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionProposeSlots, res.Action.Kind)
	assert.True(t, res.Context.Constraint.IsAmbiguous())
	assert.Equal(t, date(9, 9, 0), res.Action.Windows[0].Start)

	res, err = f.svc.HandleUtterance(ctx, "s-week", "Wednesday afternoon")
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionProposeSlots, res.Action.Kind)
	assert.Equal(t, scheduling.SourceDirect, res.Action.Step)
	assert.False(t, res.Context.Constraint.IsAmbiguous())
	assert.Equal(t, date(11, 12, 0), res.Action.Windows[0].Start)
	for _, w := range res.Action.Windows {
		assert.Equal(t, time.Wednesday, w.Start.Weekday())
		assert.GreaterOrEqual(t, w.Start.Hour(), 12)
	}
}

func TestUtteranceSearchesAnExplicitDateBeyondTheDefaultHorizon(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.HandleUtterance(context.Background(), "s-march", "30 minutes on March 10")
	require.NoError(t, err)
	require.Equal(t, negotiation.ActionProposeSlots, res.Action.Kind)
	assert.Equal(t, scheduling.SourceDirect, res.Action.Step)
	require.NotEmpty(t, res.Action.Windows)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), res.Action.Windows[0].Start)
}

func TestFailedTurnLeavesNoSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.HandleUtterance(ctx, "s-lunch", "30 minutes after lunch")
	require.NoError(t, err)
	require.True(t, res.Action.IsError())
	assert.Equal(t, scheduling.KindAnchorNotFound, res.Action.ErrorKind)

	_, err = f.svc.Session(ctx, "s-lunch")
	assert.ErrorIs(t, err, negotiation.ErrSessionNotFound)
}

func TestStructuredTurnsAreSerializedPerSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	turn := negotiation.Turn{Delta: scheduling.TemporalConstraint{Duration: scheduling.Minutes(30)}}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.HandleTurn(ctx, "s-busy", turn)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := f.svc.Session(ctx, "s-busy")
	require.NoError(t, err)
	assert.Len(t, conv.History, 10)
	assert.Equal(t, 0, f.svc.locks.len())
}

func TestClearAbandonsAndDeletes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, "s-clear", negotiation.Turn{Delta: scheduling.TemporalConstraint{Duration: scheduling.Minutes(60)}})
	require.NoError(t, err)

	res, err := f.svc.Clear(ctx, "s-clear")
	require.NoError(t, err)
	assert.Equal(t, negotiation.ActionAbandoned, res.Action.Kind)
	assert.Equal(t, negotiation.PhaseAbandoned, res.Context.Phase)

	_, err = f.svc.Session(ctx, "s-clear")
	assert.ErrorIs(t, err, negotiation.ErrSessionNotFound)

	_, err = f.svc.Clear(ctx, "s-clear")
	assert.ErrorIs(t, err, negotiation.ErrSessionNotFound)
}

type failingStore struct {
	negotiation.SessionStore
}

func (failingStore) Get(context.Context, string) (*negotiation.ConversationContext, error) {
	return nil, negotiation.ErrSessionNotFound
}

func (failingStore) Put(context.Context, *negotiation.ConversationContext) error {
	return errors.New("disk full")
}

func TestStoreFailureIsReturned(t *testing.T) {
	f := newFixture(t, failingStore{})
	_, err := f.svc.HandleTurn(context.Background(), "s-1", negotiation.Turn{Delta: scheduling.TemporalConstraint{Duration: scheduling.Minutes(30)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSessionLocksHonourCancellation(t *testing.T) {
	locks := newSessionLocks()
	unlock, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Equal(t, 0, locks.len())
}
