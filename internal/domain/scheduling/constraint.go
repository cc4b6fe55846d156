// Package scheduling turns structured, possibly partial time requests into
// concrete candidate windows and reconciles them against busy calendar time.
//
// Everything in this package is pure: no I/O, no clocks, no shared mutable
// state. Resolver and Generator values are safe for concurrent use.
package scheduling

import (
	"strings"
	"time"
)

// TimeOfDay narrows a request to part of the day.
type TimeOfDay string

const (
	TimeOfDayNone TimeOfDay = "none"
	Morning       TimeOfDay = "morning"
	Afternoon     TimeOfDay = "afternoon"
	Evening       TimeOfDay = "evening"
)

// ParseTimeOfDay maps a loose label onto a TimeOfDay.
func ParseTimeOfDay(raw string) (TimeOfDay, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "morning":
		return Morning, true
	case "afternoon":
		return Afternoon, true
	case "evening", "night":
		return Evening, true
	case "none", "any", "":
		return TimeOfDayNone, true
	}
	return "", false
}

// dateLayout is the wire form of explicit date preferences.
const dateLayout = "2006-01-02"

// DayPreference is either a weekday or an explicit calendar date. When Date
// is set, Weekday is ignored.
type DayPreference struct {
	Weekday time.Weekday `json:"weekday"`
	Date    string       `json:"date,omitempty"`
}

// OnWeekday prefers every occurrence of a weekday.
func OnWeekday(day time.Weekday) DayPreference {
	return DayPreference{Weekday: day}
}

// OnDate prefers one calendar date, taken from t's own location.
func OnDate(t time.Time) DayPreference {
	return DayPreference{Weekday: t.Weekday(), Date: t.Format(dateLayout)}
}

// Matches reports whether the local day containing t satisfies the preference.
func (p DayPreference) Matches(t time.Time) bool {
	if p.Date != "" {
		return t.Format(dateLayout) == p.Date
	}
	return t.Weekday() == p.Weekday
}

// Adjacent returns the preferences for the day before and the day after.
func (p DayPreference) Adjacent() []DayPreference {
	if p.Date != "" {
		day, err := time.Parse(dateLayout, p.Date)
		if err != nil {
			return nil
		}
		return []DayPreference{OnDate(day.AddDate(0, 0, -1)), OnDate(day.AddDate(0, 0, 1))}
	}
	return []DayPreference{
		OnWeekday((p.Weekday + 6) % 7),
		OnWeekday((p.Weekday + 1) % 7),
	}
}

func (p DayPreference) String() string {
	if p.Date != "" {
		return p.Date
	}
	return p.Weekday.String()
}

// AnchorRelation positions a meeting relative to an existing event.
type AnchorRelation string

const (
	AnchorBefore AnchorRelation = "before"
	AnchorAfter  AnchorRelation = "after"
)

// Anchor ties a request to another calendar event, e.g. "an hour before my
// 5 PM meeting". Start/End carry the already-resolved event times; when they
// are zero the event is looked up by EventID. Offset is the gap kept between
// the meeting and the event and may be negative.
type Anchor struct {
	Relation AnchorRelation `json:"relation"`
	EventID  string         `json:"event_id,omitempty"`
	Label    string         `json:"label,omitempty"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Offset   time.Duration  `json:"offset"`
}

func (a Anchor) resolved() bool {
	return !a.Start.IsZero() && !a.End.IsZero()
}

func (a Anchor) equal(o Anchor) bool {
	return a.Relation == o.Relation &&
		a.EventID == o.EventID &&
		a.Start.Equal(o.Start) &&
		a.End.Equal(o.End) &&
		a.Offset == o.Offset
}

// TemporalConstraint is a possibly partial time request. A nil field is
// absent: it is either asked for or filled from configured defaults, never
// guessed.
type TemporalConstraint struct {
	Duration  *time.Duration  `json:"duration,omitempty"`
	Earliest  *time.Time      `json:"earliest,omitempty"`
	Latest    *time.Time      `json:"latest,omitempty"`
	Days      []DayPreference `json:"days,omitempty"`
	TimeOfDay *TimeOfDay      `json:"time_of_day,omitempty"`
	Anchor    *Anchor         `json:"anchor,omitempty"`
	Ambiguous *bool           `json:"ambiguous,omitempty"`
}

// Ptr returns a pointer to v. It keeps constraint literals short.
func Ptr[T any](v T) *T {
	return &v
}

// Minutes is shorthand for a duration field of n minutes.
func Minutes(n int) *time.Duration {
	return Ptr(time.Duration(n) * time.Minute)
}

// Merge overlays incoming onto old field by field. A field present in
// incoming replaces the old value; absent fields keep the old one. Merge
// never infers a field. A non-nil empty Days slice explicitly clears the
// day preferences.
func Merge(old, incoming TemporalConstraint) TemporalConstraint {
	out := old.Clone()
	if incoming.Duration != nil {
		out.Duration = Ptr(*incoming.Duration)
	}
	if incoming.Earliest != nil {
		out.Earliest = Ptr(*incoming.Earliest)
	}
	if incoming.Latest != nil {
		out.Latest = Ptr(*incoming.Latest)
	}
	if incoming.Days != nil {
		out.Days = append([]DayPreference{}, incoming.Days...)
	}
	if incoming.TimeOfDay != nil {
		out.TimeOfDay = Ptr(*incoming.TimeOfDay)
	}
	if incoming.Anchor != nil {
		out.Anchor = Ptr(*incoming.Anchor)
	}
	if incoming.Ambiguous != nil {
		out.Ambiguous = Ptr(*incoming.Ambiguous)
	}
	return out
}

// Clone returns a deep copy sharing no pointers with c.
func (c TemporalConstraint) Clone() TemporalConstraint {
	out := TemporalConstraint{}
	if c.Duration != nil {
		out.Duration = Ptr(*c.Duration)
	}
	if c.Earliest != nil {
		out.Earliest = Ptr(*c.Earliest)
	}
	if c.Latest != nil {
		out.Latest = Ptr(*c.Latest)
	}
	if c.Days != nil {
		out.Days = append([]DayPreference{}, c.Days...)
	}
	if c.TimeOfDay != nil {
		out.TimeOfDay = Ptr(*c.TimeOfDay)
	}
	if c.Anchor != nil {
		out.Anchor = Ptr(*c.Anchor)
	}
	if c.Ambiguous != nil {
		out.Ambiguous = Ptr(*c.Ambiguous)
	}
	return out
}

// IsEmpty reports whether no field is present.
func (c TemporalConstraint) IsEmpty() bool {
	return c.Duration == nil && c.Earliest == nil && c.Latest == nil && c.Days == nil &&
		c.TimeOfDay == nil && c.Anchor == nil && c.Ambiguous == nil
}

// Equal compares two constraints by meaning: an absent time-of-day equals
// "none", absent days equal an empty preference list and an absent
// ambiguity flag equals false.
func (c TemporalConstraint) Equal(o TemporalConstraint) bool {
	if !equalPtr(c.Duration, o.Duration, func(a, b time.Duration) bool { return a == b }) {
		return false
	}
	if !equalPtr(c.Earliest, o.Earliest, time.Time.Equal) || !equalPtr(c.Latest, o.Latest, time.Time.Equal) {
		return false
	}
	if len(c.Days) != len(o.Days) {
		return false
	}
	for i := range c.Days {
		if c.Days[i] != o.Days[i] {
			return false
		}
	}
	if c.PreferredTimeOfDay() != o.PreferredTimeOfDay() || c.IsAmbiguous() != o.IsAmbiguous() {
		return false
	}
	return equalPtr(c.Anchor, o.Anchor, Anchor.equal)
}

func equalPtr[T any](a, b *T, eq func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return eq(*a, *b)
}

// PreferredTimeOfDay returns the time-of-day narrowing, TimeOfDayNone when absent.
func (c TemporalConstraint) PreferredTimeOfDay() TimeOfDay {
	if c.TimeOfDay == nil || *c.TimeOfDay == "" {
		return TimeOfDayNone
	}
	return *c.TimeOfDay
}

// IsAmbiguous reports the upstream ambiguity flag.
func (c TemporalConstraint) IsAmbiguous() bool {
	return c.Ambiguous != nil && *c.Ambiguous
}

// MissingFields lists fields that cannot be defaulted and must be asked for.
func (c TemporalConstraint) MissingFields() []string {
	var missing []string
	if c.Duration == nil || *c.Duration <= 0 {
		missing = append(missing, FieldDuration)
	}
	if c.Anchor != nil && c.Anchor.Relation != AnchorBefore && c.Anchor.Relation != AnchorAfter {
		missing = append(missing, FieldAnchor)
	}
	return missing
}
