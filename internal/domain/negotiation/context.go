// Package negotiation carries a scheduling conversation across turns. The
// Controller is the only code allowed to mutate a ConversationContext.
package negotiation

import (
	"time"

	"smartsched/internal/domain/scheduling"
)

// Phase is the position of a conversation in the negotiation state machine.
type Phase string

const (
	PhaseGathering  Phase = "gathering"
	PhaseProposing  Phase = "proposing"
	PhaseConfirming Phase = "confirming"
	PhaseBooked     Phase = "booked"
	PhaseAbandoned  Phase = "abandoned"
)

// Terminal reports whether the phase ends a negotiation.
func (p Phase) Terminal() bool {
	return p == PhaseBooked || p == PhaseAbandoned
}

// EventMetadata describes the meeting being booked.
type EventMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

// Merge overlays the non-empty fields of incoming.
func (m EventMetadata) Merge(incoming EventMetadata) EventMetadata {
	out := m.clone()
	if incoming.Title != "" {
		out.Title = incoming.Title
	}
	if incoming.Description != "" {
		out.Description = incoming.Description
	}
	if incoming.Attendees != nil {
		out.Attendees = append([]string{}, incoming.Attendees...)
	}
	return out
}

// IsZero reports whether no metadata was supplied.
func (m EventMetadata) IsZero() bool {
	return m.Title == "" && m.Description == "" && len(m.Attendees) == 0
}

func (m EventMetadata) clone() EventMetadata {
	out := m
	if m.Attendees != nil {
		out.Attendees = append([]string{}, m.Attendees...)
	}
	return out
}

// Booking records the calendar event created for a booked conversation.
type Booking struct {
	EventID string                     `json:"event_id"`
	Window  scheduling.CandidateWindow `json:"window"`
}

// HistoryEntry is one audit record per committed turn.
type HistoryEntry struct {
	At     time.Time  `json:"at"`
	Input  string     `json:"input"`
	Action ActionKind `json:"action"`
	Phase  Phase      `json:"phase"`
}

// ConversationContext is the per-session negotiation state.
type ConversationContext struct {
	SessionID     string                        `json:"session_id"`
	Constraint    scheduling.TemporalConstraint `json:"constraint"`
	LastProposals []scheduling.CandidateWindow  `json:"last_proposals,omitempty"`
	ProposalStep  scheduling.Source             `json:"proposal_step,omitempty"`
	Selected      *scheduling.CandidateWindow   `json:"selected,omitempty"`
	Rejected      []scheduling.CandidateWindow  `json:"rejected,omitempty"`
	Phase         Phase                         `json:"phase"`
	Metadata      EventMetadata                 `json:"metadata"`
	Booking       *Booking                      `json:"booking,omitempty"`
	History       []HistoryEntry                `json:"history,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
	UpdatedAt     time.Time                     `json:"updated_at"`
}

// NewContext starts a conversation in the Gathering phase.
func NewContext(sessionID string, now time.Time) *ConversationContext {
	return &ConversationContext{
		SessionID: sessionID,
		Phase:     PhaseGathering,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Constraint = c.Constraint.Clone()
	out.LastProposals = cloneWindows(c.LastProposals)
	out.Rejected = cloneWindows(c.Rejected)
	if c.Selected != nil {
		selected := *c.Selected
		out.Selected = &selected
	}
	out.Metadata = c.Metadata.clone()
	if c.Booking != nil {
		booking := *c.Booking
		out.Booking = &booking
	}
	if c.History != nil {
		out.History = append([]HistoryEntry{}, c.History...)
	}
	return &out
}

// restart clears the negotiation while keeping identity and history.
func (c *ConversationContext) restart() {
	c.Constraint = scheduling.TemporalConstraint{}
	c.LastProposals = nil
	c.ProposalStep = ""
	c.Selected = nil
	c.Rejected = nil
	c.Metadata = EventMetadata{}
	c.Booking = nil
	c.Phase = PhaseGathering
}

func cloneWindows(in []scheduling.CandidateWindow) []scheduling.CandidateWindow {
	if in == nil {
		return nil
	}
	return append([]scheduling.CandidateWindow{}, in...)
}
