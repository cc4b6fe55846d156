package scheduling

import (
	"sort"
	"time"
)

// Source records how a candidate window was produced so the dialogue layer
// can phrase the offer ("I widened to any time of day").
type Source string

const (
	SourceDirect           Source = "direct"
	SourceTimeOfDayWidened Source = "time-of-day-widened"
	SourceDayWidened       Source = "day-widened"
	SourceWeekWidened      Source = "week-widened"
	SourceHorizonWidened   Source = "horizon-widened"
)

// IsRelaxed reports whether the window came from the alternative generator.
func (s Source) IsRelaxed() bool {
	return s != "" && s != SourceDirect
}

// IsDayWidening reports whether the step loosened the day preferences.
func (s Source) IsDayWidening() bool {
	return s == SourceDayWidened || s == SourceWeekWidened
}

// CandidateWindow is a concrete [Start, End) span being considered.
type CandidateWindow struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source Source    `json:"source"`
}

// Duration is the window length.
func (w CandidateWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// SameSpan reports whether both windows cover the same instants.
func (w CandidateWindow) SameSpan(o CandidateWindow) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

// Overlaps applies half-open semantics: touching endpoints do not overlap.
func (w CandidateWindow) Overlaps(o CandidateWindow) bool {
	return overlaps(w.Start, w.End, o.Start, o.End)
}

// BusyInterval is an existing [Start, End) commitment. EventID and Title are
// optional and let anchors refer to the event.
type BusyInterval struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	EventID string    `json:"event_id,omitempty"`
	Title   string    `json:"title,omitempty"`
}

// CalendarMeta is the reference calendar a resolution runs against.
type CalendarMeta struct {
	Now    time.Time
	Events []BusyInterval
}

// FindEvent locates an event by id.
func (m CalendarMeta) FindEvent(eventID string) (BusyInterval, bool) {
	if eventID == "" {
		return BusyInterval{}, false
	}
	for _, ev := range m.Events {
		if ev.EventID == eventID {
			return ev, true
		}
	}
	return BusyInterval{}, false
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// sortWindows orders chronologically by start, shorter span first on ties.
func sortWindows(windows []CandidateWindow) {
	sort.SliceStable(windows, func(i, j int) bool {
		if !windows[i].Start.Equal(windows[j].Start) {
			return windows[i].Start.Before(windows[j].Start)
		}
		return windows[i].Duration() < windows[j].Duration()
	})
}

// PickDisjoint walks windows in order and keeps up to max of them that
// neither overlap an already kept window nor match an excluded span.
func PickDisjoint(windows []CandidateWindow, max int, exclude []CandidateWindow) []CandidateWindow {
	var picked []CandidateWindow
	for _, w := range windows {
		if max > 0 && len(picked) >= max {
			break
		}
		if containsSpan(exclude, w) {
			continue
		}
		clash := false
		for _, p := range picked {
			if p.Overlaps(w) {
				clash = true
				break
			}
		}
		if !clash {
			picked = append(picked, w)
		}
	}
	return picked
}

func containsSpan(windows []CandidateWindow, w CandidateWindow) bool {
	for _, o := range windows {
		if o.SameSpan(w) {
			return true
		}
	}
	return false
}
