// Package calendar provides calendar collaborators for the negotiation
// controller: local backends plus decorators for fan-out, caching and
// resilience.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
)

// Event is a stored calendar entry.
type Event struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Busy projects the event onto the interval the scheduler reasons about.
func (e Event) Busy() scheduling.BusyInterval {
	return scheduling.BusyInterval{Start: e.Start, End: e.End, EventID: e.ID, Title: e.Title}
}

func (e Event) validate() error {
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("event %q needs start and end", e.Title)
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("event %q ends before it starts", e.Title)
	}
	return nil
}

func newEventID() string {
	return "evt-" + uuid.NewString()
}

// Memory is a process-local calendar. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	calendarID string
	events     []Event
}

// NewMemory seeds a calendar with events; events without an id get one.
func NewMemory(calendarID string, events ...Event) (*Memory, error) {
	m := &Memory{calendarID: calendarID}
	for _, ev := range events {
		if _, err := m.Add(ev); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add stores an event and returns its id.
func (m *Memory) Add(ev Event) (string, error) {
	if err := ev.validate(); err != nil {
		return "", err
	}
	if ev.ID == "" {
		ev.ID = newEventID()
	}
	if ev.CalendarID == "" {
		ev.CalendarID = m.calendarID
	}
	ev.Attendees = append([]string(nil), ev.Attendees...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return ev.ID, nil
}

// Events returns a copy of every stored event ordered by start.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// BusyIntervals returns events overlapping [from, to).
func (m *Memory) BusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var busy []scheduling.BusyInterval
	for _, ev := range m.events {
		if ev.Start.Before(to) && ev.End.After(from) {
			busy = append(busy, ev.Busy())
		}
	}
	sortBusy(busy)
	return busy, nil
}

// CreateEvent books the window.
func (m *Memory) CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta negotiation.EventMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Add(Event{
		Title:       meta.Title,
		Description: meta.Description,
		Attendees:   meta.Attendees,
		Start:       window.Start,
		End:         window.End,
	})
}

func sortBusy(busy []scheduling.BusyInterval) {
	sort.SliceStable(busy, func(i, j int) bool {
		if !busy[i].Start.Equal(busy[j].Start) {
			return busy[i].Start.Before(busy[j].Start)
		}
		return busy[i].End.Before(busy[j].End)
	})
}

var _ negotiation.Calendar = (*Memory)(nil)
