package negotiation

import (
	"time"

	"smartsched/internal/domain/scheduling"
)

// Clock is a wall-clock time of day used to pick a proposal by start time.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Selection identifies one of the last proposals, either by 1-based
// position or by content. Content fields that are set must all match.
type Selection struct {
	Ordinal int           `json:"ordinal,omitempty"`
	Weekday *time.Weekday `json:"weekday,omitempty"`
	Date    string        `json:"date,omitempty"`
	Start   *Clock        `json:"start,omitempty"`
}

// IsZero reports whether the selection names nothing.
func (s Selection) IsZero() bool {
	return s.Ordinal == 0 && s.Weekday == nil && s.Date == "" && s.Start == nil
}

// Match resolves the selection against proposals, read in loc. An ordinal
// wins over content; among content matches the earliest proposal is chosen.
func (s Selection) Match(proposals []scheduling.CandidateWindow, loc *time.Location) (scheduling.CandidateWindow, bool) {
	if s.Ordinal > 0 {
		if s.Ordinal > len(proposals) {
			return scheduling.CandidateWindow{}, false
		}
		return proposals[s.Ordinal-1], true
	}
	if s.IsZero() {
		return scheduling.CandidateWindow{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, p := range proposals {
		start := p.Start.In(loc)
		if s.Weekday != nil && start.Weekday() != *s.Weekday {
			continue
		}
		if s.Date != "" && start.Format("2006-01-02") != s.Date {
			continue
		}
		if s.Start != nil && (start.Hour() != s.Start.Hour || start.Minute() != s.Start.Minute) {
			continue
		}
		return p, true
	}
	return scheduling.CandidateWindow{}, false
}
