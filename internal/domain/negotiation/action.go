package negotiation

import (
	"smartsched/internal/domain/scheduling"
)

// ActionKind names the single response a turn produces.
type ActionKind string

const (
	ActionAskForInfo     ActionKind = "ask_for_info"
	ActionProposeSlots   ActionKind = "propose_slots"
	ActionAskConfirm     ActionKind = "ask_confirm"
	ActionBooked         ActionKind = "booked"
	ActionNoAvailability ActionKind = "no_availability"
	ActionAbandoned      ActionKind = "abandoned"
	ActionError          ActionKind = "error"
)

// SystemAction is what the serving layer renders back to the user. Only the
// fields relevant to Kind are set.
type SystemAction struct {
	Kind      ActionKind                   `json:"kind"`
	Fields    []string                     `json:"fields,omitempty"`
	Windows   []scheduling.CandidateWindow `json:"windows,omitempty"`
	Step      scheduling.Source            `json:"step,omitempty"`
	Window    *scheduling.CandidateWindow  `json:"window,omitempty"`
	EventID   string                       `json:"event_id,omitempty"`
	ErrorKind scheduling.Kind              `json:"error_kind,omitempty"`

	// Cause keeps the underlying failure for logs. It is never serialized.
	Cause error `json:"-"`
}

func AskForInfo(fields ...string) SystemAction {
	return SystemAction{Kind: ActionAskForInfo, Fields: fields}
}

func ProposeSlots(windows []scheduling.CandidateWindow, step scheduling.Source) SystemAction {
	return SystemAction{Kind: ActionProposeSlots, Windows: cloneWindows(windows), Step: step}
}

func AskConfirm(window scheduling.CandidateWindow) SystemAction {
	return SystemAction{Kind: ActionAskConfirm, Window: &window}
}

func Booked(window scheduling.CandidateWindow, eventID string) SystemAction {
	return SystemAction{Kind: ActionBooked, Window: &window, EventID: eventID}
}

func NoAvailability() SystemAction {
	return SystemAction{Kind: ActionNoAvailability}
}

func Abandoned() SystemAction {
	return SystemAction{Kind: ActionAbandoned}
}

// Failure converts err into an Error action. Foreign errors become Internal.
func Failure(err error) SystemAction {
	return SystemAction{
		Kind:      ActionError,
		ErrorKind: scheduling.KindOf(err),
		Fields:    scheduling.MissingFieldsOf(err),
		Cause:     err,
	}
}

// IsError reports whether the turn failed.
func (a SystemAction) IsError() bool {
	return a.Kind == ActionError
}
