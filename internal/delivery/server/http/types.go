package http

import (
	"time"

	"smartsched/internal/app/negotiator"
	"smartsched/internal/delivery/presentation/formatter"
	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TurnRequest carries either free text or an already-structured turn.
// Durations inside Turn are nanoseconds, as encoding/json writes them.
type TurnRequest struct {
	Text string            `json:"text,omitempty"`
	Turn *negotiation.Turn `json:"turn,omitempty"`
}

// TurnResponse is the outcome of one turn plus its rendered reply.
type TurnResponse struct {
	Result negotiator.Result `json:"result"`
	Reply  formatter.Reply   `json:"reply"`
}

// SessionResponse is the stored state of a conversation.
type SessionResponse struct {
	Session *negotiation.ConversationContext `json:"session"`
}

// AvailabilityResponse lists free gaps of the calendar.
type AvailabilityResponse struct {
	From time.Time                    `json:"from"`
	To   time.Time                    `json:"to"`
	Free []scheduling.CandidateWindow `json:"free"`
}

// HealthResponse reports liveness and the calendar breaker state.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Calendar  string    `json:"calendar,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// BreakerResponse reports a manual breaker reset.
type BreakerResponse struct {
	Previous string `json:"previous"`
	State    string `json:"state"`
}

// StreamMessage is one websocket frame written by the server.
type StreamMessage struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Data      *TurnResponse `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	streamTypeTurn  = "turn"
	streamTypeError = "error"
)
