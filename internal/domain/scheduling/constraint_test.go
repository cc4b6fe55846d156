package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// date builds a UTC time.Time from y-m-d h:m for concise fixtures.
// 2026-02-02 is a Monday.
func date(year, month, day, hour, min int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, 0, 0, time.UTC)
}

func TestMergeOverwritesOnlyPresentFields(t *testing.T) {
	base := TemporalConstraint{
		Duration:  Minutes(60),
		Days:      []DayPreference{OnWeekday(time.Tuesday)},
		TimeOfDay: Ptr(Afternoon),
	}

	merged := Merge(base, TemporalConstraint{Duration: Minutes(30)})

	require.NotNil(t, merged.Duration)
	assert.Equal(t, 30*time.Minute, *merged.Duration)
	assert.Equal(t, []DayPreference{OnWeekday(time.Tuesday)}, merged.Days)
	assert.Equal(t, Afternoon, merged.PreferredTimeOfDay())
	assert.Nil(t, merged.Earliest)
	assert.Nil(t, merged.Anchor)
}

func TestMergeDoesNotInferFields(t *testing.T) {
	merged := Merge(TemporalConstraint{}, TemporalConstraint{TimeOfDay: Ptr(Morning)})

	assert.Nil(t, merged.Duration)
	assert.Nil(t, merged.Days)
	assert.Equal(t, []string{FieldDuration}, merged.MissingFields())
}

func TestMergeCommutesForDisjointDeltas(t *testing.T) {
	start := date(2026, 2, 2, 0, 0)
	end := date(2026, 2, 7, 0, 0)
	base := TemporalConstraint{
		Duration: Minutes(45),
		Days:     []DayPreference{OnWeekday(time.Monday)},
	}

	pairs := []struct {
		name   string
		d1, d2 TemporalConstraint
	}{
		{
			name: "duration and days",
			d1:   TemporalConstraint{Duration: Minutes(30)},
			d2:   TemporalConstraint{Days: []DayPreference{OnWeekday(time.Friday)}},
		},
		{
			name: "bounds and time of day",
			d1:   TemporalConstraint{Earliest: &start, Latest: &end},
			d2:   TemporalConstraint{TimeOfDay: Ptr(Evening)},
		},
		{
			name: "anchor and ambiguity",
			d1: TemporalConstraint{Anchor: &Anchor{
				Relation: AnchorBefore,
				EventID:  "evt-1",
				Offset:   time.Hour,
			}},
			d2: TemporalConstraint{Ambiguous: Ptr(true)},
		},
	}

	for _, tc := range pairs {
		t.Run(tc.name, func(t *testing.T) {
			left := Merge(Merge(base, tc.d1), tc.d2)
			right := Merge(Merge(base, tc.d2), tc.d1)
			assert.Equal(t, left, right)
			assert.True(t, left.Equal(right))
		})
	}
}

func TestMergeResultDoesNotAliasInputs(t *testing.T) {
	base := TemporalConstraint{Duration: Minutes(60), Days: []DayPreference{OnWeekday(time.Monday)}}
	delta := TemporalConstraint{Days: []DayPreference{OnWeekday(time.Friday)}}

	merged := Merge(base, delta)
	*merged.Duration = time.Minute
	merged.Days[0] = OnWeekday(time.Sunday)

	assert.Equal(t, 60*time.Minute, *base.Duration)
	assert.Equal(t, OnWeekday(time.Friday), delta.Days[0])
}

func TestMergeEmptyDaysClearsPreference(t *testing.T) {
	base := TemporalConstraint{Days: []DayPreference{OnWeekday(time.Monday)}}

	merged := Merge(base, TemporalConstraint{Days: []DayPreference{}})

	assert.NotNil(t, merged.Days)
	assert.Empty(t, merged.Days)
}

func TestEqualTreatsAbsentFieldsAsDefaults(t *testing.T) {
	a := TemporalConstraint{Duration: Minutes(30)}
	b := TemporalConstraint{
		Duration:  Minutes(30),
		TimeOfDay: Ptr(TimeOfDayNone),
		Ambiguous: Ptr(false),
		Days:      []DayPreference{},
	}
	assert.True(t, a.Equal(b))

	c := TemporalConstraint{Duration: Minutes(45)}
	assert.False(t, a.Equal(c))

	earliest := date(2026, 2, 2, 9, 0)
	d := TemporalConstraint{Duration: Minutes(30), Earliest: &earliest}
	assert.False(t, a.Equal(d))
}

func TestMissingFields(t *testing.T) {
	assert.Equal(t, []string{FieldDuration}, TemporalConstraint{}.MissingFields())
	assert.Equal(t, []string{FieldDuration}, TemporalConstraint{Duration: Minutes(0)}.MissingFields())
	assert.Empty(t, TemporalConstraint{Duration: Minutes(15)}.MissingFields())

	badAnchor := TemporalConstraint{Duration: Minutes(15), Anchor: &Anchor{Relation: "around"}}
	assert.Equal(t, []string{FieldAnchor}, badAnchor.MissingFields())
}

func TestDayPreferenceAdjacent(t *testing.T) {
	assert.Equal(t,
		[]DayPreference{OnWeekday(time.Saturday), OnWeekday(time.Monday)},
		OnWeekday(time.Sunday).Adjacent())

	adjacent := OnDate(date(2026, 3, 1, 0, 0)).Adjacent()
	require.Len(t, adjacent, 2)
	assert.Equal(t, "2026-02-28", adjacent[0].Date)
	assert.Equal(t, "2026-03-02", adjacent[1].Date)
}

func TestDayPreferenceMatches(t *testing.T) {
	tuesday := date(2026, 2, 3, 10, 0)
	assert.True(t, OnWeekday(time.Tuesday).Matches(tuesday))
	assert.False(t, OnWeekday(time.Wednesday).Matches(tuesday))
	assert.True(t, OnDate(tuesday).Matches(date(2026, 2, 3, 23, 0)))
	assert.False(t, OnDate(tuesday).Matches(date(2026, 2, 10, 10, 0)))
}

func TestParseTimeOfDay(t *testing.T) {
	for raw, want := range map[string]TimeOfDay{
		"Morning":   Morning,
		"afternoon": Afternoon,
		"night":     Evening,
		"any":       TimeOfDayNone,
	} {
		got, ok := ParseTimeOfDay(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseTimeOfDay("brunch")
	assert.False(t, ok)
}

func TestErrorKindMatching(t *testing.T) {
	err := Incomplete(FieldDuration)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.NotErrorIs(t, err, ErrAnchorNotFound)
	assert.Equal(t, KindIncomplete, KindOf(err))
	assert.Equal(t, []string{FieldDuration}, MissingFieldsOf(err))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.False(t, KindInternal.Recoverable())
	assert.True(t, KindCalendarWriteFailed.Recoverable())
}
