package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
)

// Monday 2 February 2026, 09:00 UTC.
var monday = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

func day(d, hour, minute int) time.Time {
	return time.Date(2026, 2, d, hour, minute, 0, 0, time.UTC)
}

func extract(t *testing.T, text string, mutate ...func(*Request)) negotiation.Turn {
	t.Helper()
	req := Request{Text: text, Now: monday, Location: time.UTC, Phase: negotiation.PhaseGathering}
	for _, fn := range mutate {
		fn(&req)
	}
	turn, err := NewRules().Extract(context.Background(), req)
	require.NoError(t, err)
	return turn
}

func TestRulesDurationPhrases(t *testing.T) {
	cases := map[string]time.Duration{
		"30 minutes please":              30 * time.Minute,
		"let's do an hour":               time.Hour,
		"1.5 hours":                      90 * time.Minute,
		"half an hour":                   30 * time.Minute,
		"an hour and a half":             90 * time.Minute,
		"2 hours and 15 minutes":         135 * time.Minute,
		"a quick 20 min chat":            20 * time.Minute,
		"forty-five minutes":             45 * time.Minute,
		"a quarter of an hour is plenty": 15 * time.Minute,
	}
	for text, want := range cases {
		t.Run(text, func(t *testing.T) {
			turn := extract(t, text)
			require.NotNil(t, turn.Delta.Duration)
			assert.Equal(t, want, *turn.Delta.Duration)
		})
	}
}

func TestRulesDayAndTimeOfDay(t *testing.T) {
	turn := extract(t, "Let's meet for 30 minutes on Tuesday afternoon")
	assert.Equal(t, 30*time.Minute, *turn.Delta.Duration)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnWeekday(time.Tuesday)}, turn.Delta.Days)
	require.NotNil(t, turn.Delta.TimeOfDay)
	assert.Equal(t, scheduling.Afternoon, *turn.Delta.TimeOfDay)
	assert.Nil(t, turn.Delta.Earliest)
	require.NotNil(t, turn.Delta.Ambiguous)
	assert.False(t, *turn.Delta.Ambiguous)
	assert.Equal(t, negotiation.IntentNone, turn.Intent)

	turn = extract(t, "an hour and a half tomorrow morning")
	assert.Equal(t, 90*time.Minute, *turn.Delta.Duration)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnDate(day(3, 0, 0))}, turn.Delta.Days)
	assert.Equal(t, scheduling.Morning, *turn.Delta.TimeOfDay)
}

func TestRulesRelativeDays(t *testing.T) {
	t.Run("next weekday is strictly after today", func(t *testing.T) {
		turn := extract(t, "next monday")
		assert.Equal(t, []scheduling.DayPreference{scheduling.OnDate(day(9, 0, 0))}, turn.Delta.Days)
	})
	t.Run("in n days", func(t *testing.T) {
		turn := extract(t, "in 3 days")
		assert.Equal(t, []scheduling.DayPreference{scheduling.OnDate(day(5, 0, 0))}, turn.Delta.Days)
	})
	t.Run("weekend", func(t *testing.T) {
		turn := extract(t, "sometime this weekend")
		assert.Equal(t, []scheduling.DayPreference{
			scheduling.OnWeekday(time.Saturday), scheduling.OnWeekday(time.Sunday),
		}, turn.Delta.Days)
		require.NotNil(t, turn.Delta.Ambiguous)
		assert.False(t, *turn.Delta.Ambiguous)
	})
	t.Run("month and day", func(t *testing.T) {
		turn := extract(t, "March 3rd")
		assert.Equal(t, []scheduling.DayPreference{{Weekday: time.Tuesday, Date: "2026-03-03"}}, turn.Delta.Days)
	})
	t.Run("past month day rolls to next year", func(t *testing.T) {
		turn := extract(t, "Jan 5")
		require.Len(t, turn.Delta.Days, 1)
		assert.Equal(t, "2027-01-05", turn.Delta.Days[0].Date)
	})
	t.Run("iso date", func(t *testing.T) {
		turn := extract(t, "2026-02-10 works")
		assert.Equal(t, []scheduling.DayPreference{scheduling.OnDate(day(10, 0, 0))}, turn.Delta.Days)
	})
}

func TestRulesVagueRangesAreAmbiguous(t *testing.T) {
	turn := extract(t, "half an hour next week")
	assert.Equal(t, 30*time.Minute, *turn.Delta.Duration)
	require.NotNil(t, turn.Delta.Ambiguous)
	assert.True(t, *turn.Delta.Ambiguous)
	assert.Equal(t, day(9, 0, 0), *turn.Delta.Earliest)
	assert.Equal(t, day(16, 0, 0), *turn.Delta.Latest)
	assert.Empty(t, turn.Delta.Days)

	turn = extract(t, "sometime this week for 20 min")
	assert.True(t, *turn.Delta.Ambiguous)
	assert.Nil(t, turn.Delta.Earliest)
	assert.Equal(t, day(9, 0, 0), *turn.Delta.Latest)

	turn = extract(t, "Tuesday next week")
	require.NotNil(t, turn.Delta.Ambiguous)
	assert.False(t, *turn.Delta.Ambiguous)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnWeekday(time.Tuesday)}, turn.Delta.Days)
	assert.Equal(t, day(9, 0, 0), *turn.Delta.Earliest)
}

func TestRulesAmbiguityFlag(t *testing.T) {
	cases := []struct {
		text string
		want *bool
	}{
		{text: "30 minutes sometime next week", want: scheduling.Ptr(true)},
		{text: "Wednesday afternoon", want: scheduling.Ptr(false)},
		{text: "in the morning", want: scheduling.Ptr(false)},
		{text: "after 2pm", want: scheduling.Ptr(false)},
		{text: "make it an hour", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, extract(t, tc.text).Delta.Ambiguous)
		})
	}
}

func TestRulesClockTimes(t *testing.T) {
	turn := extract(t, "45 minutes next Thursday at 3pm")
	assert.Equal(t, 45*time.Minute, *turn.Delta.Duration)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnDate(day(5, 0, 0))}, turn.Delta.Days)
	assert.Equal(t, day(5, 15, 0), *turn.Delta.Earliest)

	turn = extract(t, "15:30")
	assert.Equal(t, day(2, 15, 30), *turn.Delta.Earliest)

	turn = extract(t, "at 8am")
	assert.Equal(t, day(3, 8, 0), *turn.Delta.Earliest, "a time already past today moves to tomorrow")

	turn = extract(t, "at 3")
	assert.Equal(t, day(2, 15, 0), *turn.Delta.Earliest)
}

func TestRulesClockBounds(t *testing.T) {
	turn := extract(t, "1 hour after 3pm on friday")
	assert.Equal(t, time.Hour, *turn.Delta.Duration)
	assert.Nil(t, turn.Delta.Anchor)
	assert.Equal(t, day(6, 15, 0), *turn.Delta.Earliest)

	turn = extract(t, "tomorrow before noon")
	assert.Equal(t, day(3, 12, 0), *turn.Delta.Latest)
	assert.Nil(t, turn.Delta.Anchor)
}

func TestRulesAnchors(t *testing.T) {
	events := []scheduling.BusyInterval{
		{EventID: "ev-standup", Title: "Team standup", Start: day(3, 9, 30), End: day(3, 9, 45)},
		{EventID: "ev-dentist", Title: "Dentist appointment", Start: day(3, 15, 0), End: day(3, 16, 0)},
		{EventID: "ev-review", Title: "Design review", Start: day(4, 17, 0), End: day(4, 18, 0)},
	}
	withEvents := func(r *Request) { r.Events = events }

	turn := extract(t, "30 minute sync an hour before my dentist appointment", withEvents)
	require.NotNil(t, turn.Delta.Anchor)
	anchor := turn.Delta.Anchor
	assert.Equal(t, scheduling.AnchorBefore, anchor.Relation)
	assert.Equal(t, "ev-dentist", anchor.EventID)
	assert.Equal(t, "Dentist appointment", anchor.Label)
	assert.Equal(t, day(3, 15, 0), anchor.Start)
	assert.Equal(t, time.Hour, anchor.Offset)
	assert.Equal(t, 30*time.Minute, *turn.Delta.Duration)

	turn = extract(t, "right after my 5 PM meeting", withEvents)
	require.NotNil(t, turn.Delta.Anchor)
	assert.Equal(t, scheduling.AnchorAfter, turn.Delta.Anchor.Relation)
	assert.Equal(t, "ev-review", turn.Delta.Anchor.EventID)
	assert.Nil(t, turn.Delta.Earliest, "the clock inside the reference is not a bound")

	turn = extract(t, "after lunch", withEvents)
	require.NotNil(t, turn.Delta.Anchor)
	assert.Empty(t, turn.Delta.Anchor.EventID)
	assert.Equal(t, "lunch", turn.Delta.Anchor.Label)

	turn, err := NewRules(WithAnchorOffset(10*time.Minute)).Extract(context.Background(), Request{
		Text: "after the standup", Now: monday, Events: events,
	})
	require.NoError(t, err)
	assert.Equal(t, "ev-standup", turn.Delta.Anchor.EventID)
	assert.Equal(t, 10*time.Minute, turn.Delta.Anchor.Offset)
}

func TestRulesMetadata(t *testing.T) {
	turn := extract(t, `Book 30 minutes called "Roadmap sync" with ana@example.com tomorrow`)
	assert.Equal(t, "Roadmap sync", turn.Metadata.Title)
	assert.Equal(t, []string{"ana@example.com"}, turn.Metadata.Attendees)
	assert.Equal(t, 30*time.Minute, *turn.Delta.Duration)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnDate(day(3, 0, 0))}, turn.Delta.Days)

	turn = extract(t, "schedule a meeting called Design Review for 1 hour on Wednesday")
	assert.Equal(t, "Design Review", turn.Metadata.Title)
	assert.Equal(t, time.Hour, *turn.Delta.Duration)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnWeekday(time.Wednesday)}, turn.Delta.Days)
}

func TestRulesIntents(t *testing.T) {
	cases := map[string]negotiation.Intent{
		"yes please":                negotiation.IntentAffirm,
		"sounds good":               negotiation.IntentAffirm,
		"no, none of these work":    negotiation.IntentReject,
		"got any other options?":    negotiation.IntentReject,
		"never mind, cancel it":     negotiation.IntentCancel,
		"just 30 minutes on friday": negotiation.IntentNone,
	}
	for text, want := range cases {
		t.Run(text, func(t *testing.T) {
			assert.Equal(t, want, extract(t, text).Intent)
		})
	}
}

func TestRulesSelectionWhileProposing(t *testing.T) {
	proposals := []scheduling.CandidateWindow{
		{Start: day(3, 14, 0), End: day(3, 14, 30)},
		{Start: day(4, 10, 0), End: day(4, 10, 30)},
		{Start: day(5, 16, 0), End: day(5, 16, 30)},
	}
	proposing := func(r *Request) {
		r.Phase = negotiation.PhaseProposing
		r.Proposals = proposals
	}

	turn := extract(t, "the second one", proposing)
	require.NotNil(t, turn.Selection)
	assert.Equal(t, 2, turn.Selection.Ordinal)

	turn = extract(t, "option 3 please", proposing)
	assert.Equal(t, 3, turn.Selection.Ordinal)

	turn = extract(t, "the last one", proposing)
	assert.Equal(t, 3, turn.Selection.Ordinal)

	turn = extract(t, "Wednesday works", proposing)
	require.NotNil(t, turn.Selection)
	assert.Equal(t, time.Wednesday, *turn.Selection.Weekday)
	assert.Empty(t, turn.Delta.Days)

	turn = extract(t, "Thursday at 4pm", proposing)
	require.NotNil(t, turn.Selection)
	assert.Equal(t, time.Thursday, *turn.Selection.Weekday)
	assert.Equal(t, negotiation.Clock{Hour: 16}, *turn.Selection.Start)
	picked, ok := turn.Selection.Match(proposals, time.UTC)
	require.True(t, ok)
	assert.True(t, picked.SameSpan(proposals[2]))

	turn = extract(t, "what about Friday morning", proposing)
	assert.Nil(t, turn.Selection, "a day nobody offered is a new constraint")
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnWeekday(time.Friday)}, turn.Delta.Days)
	assert.Equal(t, scheduling.Morning, *turn.Delta.TimeOfDay)

	turn = extract(t, "the second one")
	assert.Nil(t, turn.Selection, "ordinals mean nothing before anything is offered")
}

func TestRulesEmptyAndCancelledInput(t *testing.T) {
	turn := extract(t, "   ")
	assert.True(t, turn.Delta.IsEmpty())
	assert.Nil(t, turn.Selection)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRules().Extract(ctx, Request{Text: "tomorrow"})
	assert.ErrorIs(t, err, context.Canceled)
}
