package scheduling

import (
	"fmt"
	"time"
)

// Resolver expands constraints into day-level candidate windows under a
// fixed calendar policy.
type Resolver struct {
	cfg  Config
	loc  *time.Location
	step time.Duration
}

// NewResolver validates cfg and loads its timezone.
func NewResolver(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Resolver{
		cfg:  cfg,
		loc:  loc,
		step: time.Duration(cfg.SlotStepMinutes) * time.Minute,
	}, nil
}

// Config returns the policy the resolver was built with.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Location returns the configured timezone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// expansion is one concrete reading of a constraint. The alternative
// generator derives relaxed expansions from the direct one.
type expansion struct {
	source     Source
	timeOfDay  TimeOfDay
	preferred  []DayPreference
	widened    []DayPreference
	anyDay     bool
	extraWeeks int
}

func directExpansion(c TemporalConstraint) expansion {
	exp := expansion{
		source:    SourceDirect,
		timeOfDay: c.PreferredTimeOfDay(),
		preferred: c.Days,
	}
	if c.IsAmbiguous() {
		// Ambiguous requests search wide rather than guess a narrowing.
		exp.timeOfDay = TimeOfDayNone
		exp.preferred = nil
		exp.anyDay = true
	}
	return exp
}

// Resolve expands c into day-level windows in chronological order (ties
// broken by shorter span), each at least c.Duration long. It returns an
// Incomplete error when the duration is missing or the bounds cannot be
// satisfied, and AnchorNotFound when an anchor cannot be located in meta.
// meta.Now must be set.
func (r *Resolver) Resolve(c TemporalConstraint, meta CalendarMeta) ([]CandidateWindow, error) {
	return r.expand(c, meta, directExpansion(c))
}

// Candidates resolves c and cuts the windows into meeting-sized slots.
func (r *Resolver) Candidates(c TemporalConstraint, meta CalendarMeta) ([]CandidateWindow, error) {
	windows, err := r.Resolve(c, meta)
	if err != nil {
		return nil, err
	}
	return r.Slots(windows, *c.Duration), nil
}

// SearchRange returns the widest range any resolution of c may touch,
// including every horizon relaxation. Callers use it to size calendar reads.
func (r *Resolver) SearchRange(c TemporalConstraint, now time.Time) (time.Time, time.Time) {
	lo := now
	if c.Earliest != nil && c.Earliest.After(lo) {
		lo = *c.Earliest
	}
	hi := now.AddDate(0, 0, r.cfg.MaxHorizonDays)
	if c.Latest != nil && c.Latest.After(hi) {
		hi = *c.Latest
	}
	if c.Anchor != nil && c.Anchor.resolved() {
		if c.Anchor.Start.Before(lo) {
			lo = c.Anchor.Start
		}
		if c.Anchor.End.After(hi) {
			hi = c.Anchor.End
		}
	}
	dayStart := r.startOfDay(lo)
	return dayStart, r.startOfDay(hi).AddDate(0, 0, 1)
}

func (r *Resolver) expand(c TemporalConstraint, meta CalendarMeta, exp expansion) ([]CandidateWindow, error) {
	if meta.Now.IsZero() {
		return nil, NewError(KindInternal, fmt.Errorf("reference time not set"))
	}
	if missing := c.MissingFields(); len(missing) > 0 {
		return nil, Incomplete(missing...)
	}
	duration := *c.Duration

	if c.Anchor != nil {
		return r.expandAnchor(c, meta, exp, duration)
	}

	lo, hi, err := r.bounds(c, meta.Now, exp.extraWeeks)
	if err != nil {
		return nil, err
	}

	var windows []CandidateWindow
	for day := r.startOfDay(lo); day.Before(hi); day = r.nextDay(day) {
		if !r.dayEligible(day, exp) {
			continue
		}
		start, end, ok := r.dayWindow(day, exp.timeOfDay)
		if !ok {
			continue
		}
		start, end = clip(start, end, lo, hi)
		if end.Sub(start) >= duration {
			windows = append(windows, CandidateWindow{Start: start, End: end, Source: exp.source})
		}
	}
	sortWindows(windows)
	return windows, nil
}

// bounds resolves [earliest, latest] against now, the default horizon and
// extraWeeks of horizon widening, capped at the maximum horizon. Without a
// latest bound, the default horizon stretches to the last explicit date in
// c.Days.
func (r *Resolver) bounds(c TemporalConstraint, now time.Time, extraWeeks int) (time.Time, time.Time, error) {
	if c.Earliest != nil && c.Latest != nil && !c.Earliest.Before(*c.Latest) {
		return time.Time{}, time.Time{}, Incomplete(FieldTimeRange)
	}
	lo := now
	if c.Earliest != nil && c.Earliest.After(lo) {
		lo = *c.Earliest
	}
	limit := now.AddDate(0, 0, r.cfg.MaxHorizonDays)
	hi := now.AddDate(0, 0, r.cfg.DefaultHorizonDays)
	if c.Latest != nil {
		hi = *c.Latest
	} else if last, ok := r.lastDateEnd(c.Days); ok && last.After(hi) {
		hi = last
		if hi.After(limit) {
			hi = limit
		}
	}
	if extraWeeks > 0 {
		widened := hi.AddDate(0, 0, 7*extraWeeks)
		if widened.After(limit) {
			widened = limit
		}
		if widened.After(hi) {
			hi = widened
		}
	}
	if !hi.After(lo) {
		return time.Time{}, time.Time{}, Incomplete(FieldTimeRange)
	}
	return lo, hi, nil
}

// lastDateEnd returns the local midnight ending the latest explicit date.
func (r *Resolver) lastDateEnd(days []DayPreference) (time.Time, bool) {
	var last time.Time
	for _, p := range days {
		if p.Date == "" {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, p.Date, r.loc)
		if err != nil {
			continue
		}
		if end := r.nextDay(day); end.After(last) {
			last = end
		}
	}
	return last, !last.IsZero()
}

// horizonExhausted reports whether another week of widening would add nothing.
func (r *Resolver) horizonExhausted(c TemporalConstraint, now time.Time, extraWeeks int) bool {
	_, hi, err := r.bounds(c, now, extraWeeks)
	if err != nil {
		return true
	}
	return !hi.Before(now.AddDate(0, 0, r.cfg.MaxHorizonDays))
}

func (r *Resolver) expandAnchor(c TemporalConstraint, meta CalendarMeta, exp expansion, duration time.Duration) ([]CandidateWindow, error) {
	anchor := *c.Anchor
	if !anchor.resolved() {
		ev, ok := meta.FindEvent(anchor.EventID)
		if !ok {
			return nil, &Error{Kind: KindAnchorNotFound, Err: fmt.Errorf("event %q not in calendar", anchor.EventID)}
		}
		anchor.Start, anchor.End = ev.Start, ev.End
	}

	// The anchor pins the day; working hours and time-of-day still apply.
	var day time.Time
	if anchor.Relation == AnchorBefore {
		day = r.startOfDay(anchor.Start)
	} else {
		day = r.startOfDay(anchor.End)
	}
	start, end, ok := r.dayWindow(day, exp.timeOfDay)
	if !ok {
		return nil, nil
	}
	switch anchor.Relation {
	case AnchorBefore:
		if limit := anchor.Start.Add(-anchor.Offset); limit.Before(end) {
			end = limit
		}
	case AnchorAfter:
		if from := anchor.End.Add(anchor.Offset); from.After(start) {
			start = from
		}
	}

	lo := meta.Now
	if c.Earliest != nil && c.Earliest.After(lo) {
		lo = *c.Earliest
	}
	if lo.After(start) {
		start = lo
	}
	if c.Latest != nil && c.Latest.Before(end) {
		end = *c.Latest
	}
	if end.Sub(start) < duration {
		return nil, nil
	}
	return []CandidateWindow{{Start: start, End: end, Source: exp.source}}, nil
}

func (r *Resolver) dayEligible(day time.Time, exp expansion) bool {
	if exp.anyDay || len(exp.preferred) == 0 {
		return r.cfg.isWorkingDay(day.Weekday())
	}
	for _, p := range exp.preferred {
		if p.Matches(day) {
			return true
		}
	}
	if !r.cfg.isWorkingDay(day.Weekday()) {
		return false
	}
	for _, p := range exp.widened {
		if p.Matches(day) {
			return true
		}
	}
	return false
}

// dayWindow intersects working hours with the time-of-day range on day.
func (r *Resolver) dayWindow(day time.Time, part TimeOfDay) (time.Time, time.Time, bool) {
	startHour, endHour := r.cfg.WorkingHoursStart, r.cfg.WorkingHoursEnd
	if part != TimeOfDayNone && part != "" {
		hours, ok := r.cfg.dayPart(part)
		if !ok {
			return time.Time{}, time.Time{}, false
		}
		startHour = max(startHour, hours.Start)
		endHour = min(endHour, hours.End)
	}
	if endHour <= startHour {
		return time.Time{}, time.Time{}, false
	}
	return r.atHour(day, startHour), r.atHour(day, endHour), true
}

// Slots cuts windows into duration-long slots whose starts sit on the
// configured step grid, counted from local midnight.
func (r *Resolver) Slots(windows []CandidateWindow, duration time.Duration) []CandidateWindow {
	if duration <= 0 {
		return nil
	}
	var slots []CandidateWindow
	for _, w := range windows {
		for start := r.alignUp(w.Start); !start.Add(duration).After(w.End); start = start.Add(r.step) {
			slots = append(slots, CandidateWindow{Start: start, End: start.Add(duration), Source: w.Source})
		}
	}
	sortWindows(slots)
	return slots
}

func (r *Resolver) alignUp(t time.Time) time.Time {
	midnight := r.startOfDay(t)
	if rem := t.Sub(midnight) % r.step; rem != 0 {
		return t.Add(r.step - rem)
	}
	return t
}

func (r *Resolver) startOfDay(t time.Time) time.Time {
	local := t.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
}

func (r *Resolver) nextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, r.loc)
}

func (r *Resolver) atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, r.loc)
}

func clip(start, end, lo, hi time.Time) (time.Time, time.Time) {
	if start.Before(lo) {
		start = lo
	}
	if end.After(hi) {
		end = hi
	}
	return start, end
}
