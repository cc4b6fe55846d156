package negotiation

import (
	"context"
	"errors"
	"time"

	"smartsched/internal/domain/scheduling"
)

// Sentinels collaborators wrap so the controller can classify failures.
var (
	ErrCalendarUnavailable = errors.New("calendar unavailable")
	ErrAuthExpired         = errors.New("calendar authorization expired")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidSessionID    = errors.New("invalid session id")
)

// CalendarReader lists busy time. Intervals may carry event ids and titles
// so anchors can refer to them.
type CalendarReader interface {
	BusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error)
}

// CalendarWriter creates the booked event and returns its id.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta EventMetadata) (string, error)
}

// Calendar is a readable and writable calendar.
type Calendar interface {
	CalendarReader
	CalendarWriter
}

// SessionStore keeps contexts between turns. Entries may be evicted at any
// time; Get returns ErrSessionNotFound for a missing or evicted session.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*ConversationContext, error)
	Put(ctx context.Context, conv *ConversationContext) error
	Delete(ctx context.Context, sessionID string) error
}
