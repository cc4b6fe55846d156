package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
)

// Multi unions the busy time of several calendars and books into the first
// one. A failing member fails the whole read; a partial view could offer a
// slot that is actually taken.
type Multi struct {
	primary negotiation.Calendar
	readers []negotiation.CalendarReader
}

// NewMulti books into primary and reads primary plus others.
func NewMulti(primary negotiation.Calendar, others ...negotiation.CalendarReader) *Multi {
	readers := make([]negotiation.CalendarReader, 0, len(others)+1)
	readers = append(readers, primary)
	readers = append(readers, others...)
	return &Multi{primary: primary, readers: readers}
}

// BusyIntervals reads every member concurrently.
func (m *Multi) BusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	results := make([][]scheduling.BusyInterval, len(m.readers))
	g, gctx := errgroup.WithContext(ctx)
	for i, reader := range m.readers {
		i, reader := i, reader
		g.Go(func() error {
			busy, err := reader.BusyIntervals(gctx, from, to)
			if err != nil {
				return fmt.Errorf("calendar %d: %w", i, err)
			}
			results[i] = busy
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []scheduling.BusyInterval
	for _, busy := range results {
		all = append(all, busy...)
	}
	sortBusy(all)
	return all, nil
}

// CreateEvent books into the primary calendar.
func (m *Multi) CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta negotiation.EventMetadata) (string, error) {
	return m.primary.CreateEvent(ctx, window, meta)
}

var _ negotiation.Calendar = (*Multi)(nil)
