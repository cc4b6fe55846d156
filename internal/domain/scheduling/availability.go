package scheduling

import (
	"sort"
	"time"
)

// Partition splits candidates into those overlapping no busy interval and
// those overlapping at least one. Intervals are half-open, so a candidate
// ending exactly when a busy interval starts is free. Input order is kept.
func Partition(candidates []CandidateWindow, busy []BusyInterval) (free, conflicting []CandidateWindow) {
	merged := MergeBusy(busy)
	for _, c := range candidates {
		if overlapsAny(merged, c) {
			conflicting = append(conflicting, c)
		} else {
			free = append(free, c)
		}
	}
	return free, conflicting
}

// MergeBusy returns the union of busy as sorted, disjoint intervals. Empty or
// inverted intervals are dropped. A merged interval keeps event details only
// when it came from a single event.
func MergeBusy(busy []BusyInterval) []BusyInterval {
	active := make([]BusyInterval, 0, len(busy))
	for _, b := range busy {
		if b.End.After(b.Start) {
			active = append(active, b)
		}
	}
	// Ties on start put the longer interval first so it absorbs the rest.
	sort.Slice(active, func(i, j int) bool {
		if active[i].Start.Equal(active[j].Start) {
			return active[j].End.Before(active[i].End)
		}
		return active[i].Start.Before(active[j].Start)
	})

	var merged []BusyInterval
	for _, b := range active {
		if n := len(merged); n > 0 && !b.Start.After(merged[n-1].End) {
			last := &merged[n-1]
			if b.End.After(last.End) {
				last.End = b.End
			}
			if last.EventID != b.EventID {
				last.EventID, last.Title = "", ""
			}
			continue
		}
		merged = append(merged, b)
	}
	return merged
}

// overlapsAny expects merged to come from MergeBusy.
func overlapsAny(merged []BusyInterval, c CandidateWindow) bool {
	i := sort.Search(len(merged), func(i int) bool {
		return merged[i].End.After(c.Start)
	})
	return i < len(merged) && merged[i].Start.Before(c.End)
}

// FreeGaps returns the free stretches of [from, to) at least minLength long,
// in chronological order.
func FreeGaps(busy []BusyInterval, from, to time.Time, minLength time.Duration) []CandidateWindow {
	if !to.After(from) {
		return nil
	}
	var gaps []CandidateWindow
	cursor := from
	for _, b := range MergeBusy(busy) {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(to) {
			break
		}
		if b.Start.Sub(cursor) >= minLength && b.Start.After(cursor) {
			gaps = append(gaps, CandidateWindow{Start: cursor, End: b.Start, Source: SourceDirect})
		}
		cursor = b.End
	}
	if to.Sub(cursor) >= minLength && to.After(cursor) {
		gaps = append(gaps, CandidateWindow{Start: cursor, End: to, Source: SourceDirect})
	}
	return gaps
}
