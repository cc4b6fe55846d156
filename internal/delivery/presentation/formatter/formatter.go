// Package formatter renders negotiation actions as short English replies.
package formatter

import (
	"fmt"
	"strings"
	"time"

	"smartsched/internal/app/negotiator"
	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
)

const slotLayout = "Monday, January 2 at 3:04 PM"

// Reply is the text shown to the user plus quick-reply suggestions.
type Reply struct {
	Text        string   `json:"text"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Formatter renders times in one location.
type Formatter struct {
	loc *time.Location
}

// New returns a formatter for loc; nil means UTC.
func New(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{loc: loc}
}

// Format renders the action of a turn result.
func (f *Formatter) Format(res negotiator.Result) Reply {
	action := res.Action
	switch action.Kind {
	case negotiation.ActionAskForInfo:
		return Reply{Text: f.askForInfo(action.Fields)}
	case negotiation.ActionProposeSlots:
		return f.proposals(action)
	case negotiation.ActionAskConfirm:
		return Reply{
			Text:        fmt.Sprintf("Perfect! I'll schedule %s for %s. Is that correct?", f.meeting(res.Context, *action.Window), f.When(action.Window.Start)),
			Suggestions: []string{"Yes", "No"},
		}
	case negotiation.ActionBooked:
		return Reply{Text: fmt.Sprintf("Excellent! I've scheduled %s for %s.", f.meeting(res.Context, *action.Window), f.When(action.Window.Start))}
	case negotiation.ActionNoAvailability:
		return Reply{Text: "I couldn't find any free time that fits, even after widening the search. Could you suggest another day or a shorter meeting?"}
	case negotiation.ActionAbandoned:
		return Reply{Text: "Okay, I've dropped this scheduling request."}
	case negotiation.ActionError:
		return Reply{Text: f.failure(res)}
	}
	return Reply{Text: "I'm not sure how to help with that. Could you tell me what you need?"}
}

// When formats a start time the way replies do.
func (f *Formatter) When(t time.Time) string {
	return t.In(f.loc).Format(slotLayout)
}

func (f *Formatter) askForInfo(fields []string) string {
	var questions []string
	for _, field := range fields {
		switch field {
		case scheduling.FieldDuration:
			questions = append(questions, "How long should the meeting be?")
		case scheduling.FieldTimeRange:
			questions = append(questions, "When would you like to meet?")
		case scheduling.FieldAnchor:
			questions = append(questions, "Which event should I schedule around?")
		}
	}
	if len(questions) == 0 {
		return "I need a bit more information. What kind of meeting are you looking to schedule?"
	}
	return strings.Join(questions, " ")
}

var stepIntro = map[scheduling.Source]string{
	scheduling.SourceDirect:           "Great! I found some available times:",
	scheduling.SourceTimeOfDayWidened: "Nothing was free at that time of day, so I widened the search to any time of day:",
	scheduling.SourceDayWidened:       "Those days are full, so I also looked at the days around them:",
	scheduling.SourceWeekWidened:      "Nothing fit on those days, so I looked at the rest of the week:",
	scheduling.SourceHorizonWidened:   "Nothing fit in that range, so I looked further ahead:",
}

func (f *Formatter) proposals(action negotiation.SystemAction) Reply {
	intro, ok := stepIntro[action.Step]
	if !ok {
		intro = stepIntro[scheduling.SourceDirect]
	}
	lines := []string{intro}
	suggestions := make([]string, 0, len(action.Windows)+1)
	for i, w := range action.Windows {
		lines = append(lines, fmt.Sprintf("Option %d: %s (%s)", i+1, f.When(w.Start), length(w.Duration())))
		suggestions = append(suggestions, fmt.Sprintf("Option %d", i+1))
	}
	lines = append(lines, "Which one works for you?")
	suggestions = append(suggestions, "Show other times")
	return Reply{Text: strings.Join(lines, "\n"), Suggestions: suggestions}
}

func (f *Formatter) meeting(conv *negotiation.ConversationContext, w scheduling.CandidateWindow) string {
	desc := fmt.Sprintf("your %s meeting", adjective(w.Duration()))
	if conv != nil && conv.Metadata.Title != "" {
		desc = fmt.Sprintf("%q (%s)", conv.Metadata.Title, length(w.Duration()))
	}
	return desc
}

func (f *Formatter) failure(res negotiator.Result) string {
	switch res.Action.ErrorKind {
	case scheduling.KindIncomplete:
		return "I need a bit more information before I can look for times."
	case scheduling.KindAnchorNotFound:
		if label := anchorLabel(res); label != "" {
			return fmt.Sprintf("I couldn't find %q on your calendar. Which event did you mean?", label)
		}
		return "I couldn't find that event on your calendar. Which event did you mean?"
	case scheduling.KindCalendarUnavailable:
		return "I can't reach your calendar right now. Please try again in a moment."
	case scheduling.KindAuthExpired:
		return "Your calendar access has expired. Please reconnect your calendar and try again."
	case scheduling.KindCalendarWriteFailed:
		return "I couldn't save the event to your calendar. Please try again."
	}
	return "Something went wrong on my side. Please try again."
}

func anchorLabel(res negotiator.Result) string {
	if a := res.Turn.Delta.Anchor; a != nil {
		return a.Label
	}
	if res.Context != nil && res.Context.Constraint.Anchor != nil {
		return res.Context.Constraint.Anchor.Label
	}
	return ""
}

// length reads "30 min", "1 hr", "1 hr 30 min".
func length(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	hours, rest := minutes/60, minutes%60
	switch {
	case hours == 0:
		return fmt.Sprintf("%d min", rest)
	case rest == 0:
		return fmt.Sprintf("%d hr", hours)
	default:
		return fmt.Sprintf("%d hr %d min", hours, rest)
	}
}

// adjective reads "30-minute", "1-hour", "90-minute".
func adjective(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes%60 == 0 && minutes > 0 {
		return fmt.Sprintf("%d-hour", minutes/60)
	}
	return fmt.Sprintf("%d-minute", minutes)
}
