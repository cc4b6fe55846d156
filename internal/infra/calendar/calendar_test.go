package calendar

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/observability"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 2, day, hour, minute, 0, 0, time.UTC)
}

func slot(day, hour int) scheduling.CandidateWindow {
	return scheduling.CandidateWindow{Start: at(day, hour, 0), End: at(day, hour+1, 0)}
}

// stubCalendar counts calls and fails on demand.
type stubCalendar struct {
	mu       sync.Mutex
	busy     []scheduling.BusyInterval
	readErrs []error
	writeErr error
	delay    time.Duration
	reads    atomic.Int32
	writes   atomic.Int32
}

func (s *stubCalendar) BusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	s.reads.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readErrs) > 0 {
		err := s.readErrs[0]
		s.readErrs = s.readErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.busy, nil
}

func (s *stubCalendar) CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta negotiation.EventMetadata) (string, error) {
	s.writes.Add(1)
	if s.writeErr != nil {
		return "", s.writeErr
	}
	return "evt-stub", nil
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func fastRetry() schederrors.RetryConfig {
	return schederrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestMemoryRangeIsHalfOpen(t *testing.T) {
	mem, err := NewMemory("primary",
		Event{Title: "Standup", Start: at(2, 9, 0), End: at(2, 9, 30)},
		Event{Title: "Lunch", Start: at(2, 12, 0), End: at(2, 13, 0)},
	)
	require.NoError(t, err)
	ctx := context.Background()

	busy, err := mem.BusyIntervals(ctx, at(2, 9, 30), at(2, 12, 0))
	require.NoError(t, err)
	assert.Empty(t, busy)

	busy, err = mem.BusyIntervals(ctx, at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, "Standup", busy[0].Title)
	assert.NotEmpty(t, busy[0].EventID)

	id, err := mem.CreateEvent(ctx, slot(2, 10), negotiation.EventMetadata{Title: "Sync"})
	require.NoError(t, err)
	assert.Contains(t, id, "evt-")
	assert.Len(t, mem.Events(), 3)

	_, err = mem.Add(Event{Title: "Broken", Start: at(2, 11, 0), End: at(2, 10, 0)})
	assert.Error(t, err)
}

func TestSQLiteCalendarPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.db")
	ctx := context.Background()

	cal, err := OpenSQLite(path, "primary")
	require.NoError(t, err)
	_, err = cal.Add(ctx, Event{ID: "evt-standup", Title: "Standup", Start: at(2, 9, 0), End: at(2, 9, 30)})
	require.NoError(t, err)
	id, err := cal.CreateEvent(ctx, slot(3, 14), negotiation.EventMetadata{
		Title:     "Design review",
		Attendees: []string{"ana@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, cal.Close())

	reopened, err := OpenSQLite(path, "primary")
	require.NoError(t, err)
	defer reopened.Close()

	busy, err := reopened.BusyIntervals(ctx, at(2, 0, 0), at(4, 0, 0))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, scheduling.BusyInterval{Start: at(2, 9, 0), End: at(2, 9, 30), EventID: "evt-standup", Title: "Standup"}, busy[0])
	assert.Equal(t, id, busy[1].EventID)

	events, err := reopened.Events(ctx, at(3, 0, 0), at(4, 0, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"ana@example.com"}, events[0].Attendees)

	other, err := OpenSQLite(path, "team")
	require.NoError(t, err)
	defer other.Close()
	busy, err = other.BusyIntervals(ctx, at(2, 0, 0), at(4, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestMultiUnionsReaders(t *testing.T) {
	primary, err := NewMemory("primary", Event{Title: "A", Start: at(2, 11, 0), End: at(2, 12, 0)})
	require.NoError(t, err)
	team := &stubCalendar{busy: []scheduling.BusyInterval{{Start: at(2, 9, 0), End: at(2, 10, 0), Title: "B"}}}

	multi := NewMulti(primary, team)
	busy, err := multi.BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, "B", busy[0].Title)
	assert.Equal(t, "A", busy[1].Title)

	_, err = multi.CreateEvent(context.Background(), slot(2, 14), negotiation.EventMetadata{})
	require.NoError(t, err)
	assert.Len(t, primary.Events(), 2)
	assert.Zero(t, team.writes.Load())
}

func TestMultiFailsWhenAnyReaderFails(t *testing.T) {
	primary, err := NewMemory("primary")
	require.NoError(t, err)
	broken := &stubCalendar{readErrs: []error{errors.New("down")}}

	_, err = NewMulti(primary, broken).BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestCachedServesRepeatReadsAndPurgesOnWrite(t *testing.T) {
	inner := &stubCalendar{busy: []scheduling.BusyInterval{{Start: at(2, 9, 0), End: at(2, 10, 0)}}}
	registry := prometheus.NewRegistry()
	metrics := observability.NewCacheMetricsWithRegisterer(registry)
	cached := NewCached(inner, CacheConfig{Size: 8, TTL: time.Minute}, metrics)
	ctx := context.Background()

	first, err := cached.BusyIntervals(ctx, at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	first[0].Title = "mutated"

	second, err := cached.BusyIntervals(ctx, at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, second[0].Title)
	assert.Equal(t, int32(1), inner.reads.Load())
	assert.Equal(t, 1.0, counterValue(t, registry, "smartsched_cache_hit_total"))
	assert.Equal(t, 1.0, counterValue(t, registry, "smartsched_cache_miss_total"))

	_, err = cached.CreateEvent(ctx, slot(2, 11), negotiation.EventMetadata{})
	require.NoError(t, err)
	assert.Zero(t, cached.Len())

	_, err = cached.BusyIntervals(ctx, at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.reads.Load())
}

func TestCachedCollapsesConcurrentReads(t *testing.T) {
	inner := &stubCalendar{delay: 50 * time.Millisecond}
	cached := NewCached(inner, CacheConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, inner.reads.Load(), int32(2))
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &stubCalendar{readErrs: []error{errors.New("down")}}
	cached := NewCached(inner, CacheConfig{}, nil)

	_, err := cached.BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
	require.Error(t, err)
	_, err = cached.BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.reads.Load())
}

func TestResilientRetriesTransientReads(t *testing.T) {
	inner := &stubCalendar{
		busy:     []scheduling.BusyInterval{{Start: at(2, 9, 0), End: at(2, 10, 0)}},
		readErrs: []error{schederrors.FromHTTPStatus(http.StatusServiceUnavailable, "busy"), nil},
	}
	r := NewResilient(inner, ResilientConfig{Retry: fastRetry()})

	busy, err := r.BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	assert.Len(t, busy, 1)
	assert.Equal(t, int32(2), inner.reads.Load())
}

func TestResilientClassifiesFailures(t *testing.T) {
	t.Run("exhausted retries are unavailable", func(t *testing.T) {
		inner := &stubCalendar{readErrs: []error{
			schederrors.FromHTTPStatus(http.StatusBadGateway, "a"),
			schederrors.FromHTTPStatus(http.StatusBadGateway, "b"),
			schederrors.FromHTTPStatus(http.StatusBadGateway, "c"),
		}}
		_, err := NewResilient(inner, ResilientConfig{Retry: fastRetry()}).BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
		assert.ErrorIs(t, err, negotiation.ErrCalendarUnavailable)
		assert.Equal(t, int32(3), inner.reads.Load())
	})

	t.Run("401 is auth expired", func(t *testing.T) {
		inner := &stubCalendar{readErrs: []error{schederrors.FromHTTPStatus(http.StatusUnauthorized, "token")}}
		_, err := NewResilient(inner, ResilientConfig{Retry: fastRetry()}).BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
		assert.ErrorIs(t, err, negotiation.ErrAuthExpired)
		assert.Equal(t, int32(1), inner.reads.Load())
	})

	t.Run("write failures pass through", func(t *testing.T) {
		inner := &stubCalendar{writeErr: errors.New("quota")}
		_, err := NewResilient(inner, ResilientConfig{}).CreateEvent(context.Background(), slot(2, 9), negotiation.EventMetadata{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, negotiation.ErrCalendarUnavailable)
		assert.Equal(t, int32(1), inner.writes.Load())
	})

	t.Run("write 403 is auth expired", func(t *testing.T) {
		inner := &stubCalendar{writeErr: schederrors.FromHTTPStatus(http.StatusForbidden, "scope")}
		_, err := NewResilient(inner, ResilientConfig{}).CreateEvent(context.Background(), slot(2, 9), negotiation.EventMetadata{})
		assert.ErrorIs(t, err, negotiation.ErrAuthExpired)
	})
}

func TestResilientOpensBreaker(t *testing.T) {
	inner := &stubCalendar{readErrs: []error{errors.New("a"), errors.New("b")}}
	r := NewResilient(inner, ResilientConfig{
		Breaker: schederrors.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.BusyIntervals(ctx, at(2, 0, 0), at(3, 0, 0))
		require.Error(t, err)
	}
	assert.Equal(t, schederrors.StateOpen, r.Breaker().State())

	_, err := r.BusyIntervals(ctx, at(2, 0, 0), at(3, 0, 0))
	assert.ErrorIs(t, err, negotiation.ErrCalendarUnavailable)
	assert.ErrorIs(t, err, schederrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.reads.Load())
}

func TestResilientTimesOutSlowReads(t *testing.T) {
	inner := &stubCalendar{delay: time.Second}
	r := NewResilient(inner, ResilientConfig{Timeout: 10 * time.Millisecond, Retry: schederrors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}})

	_, err := r.BusyIntervals(context.Background(), at(2, 0, 0), at(3, 0, 0))
	assert.ErrorIs(t, err, negotiation.ErrCalendarUnavailable)
	assert.Equal(t, int32(2), inner.reads.Load())
}
