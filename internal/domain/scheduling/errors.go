package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure a turn can end with.
type Kind string

const (
	KindIncomplete          Kind = "incomplete"
	KindAnchorNotFound      Kind = "anchor_not_found"
	KindCalendarUnavailable Kind = "calendar_unavailable"
	KindAuthExpired         Kind = "auth_expired"
	KindCalendarWriteFailed Kind = "calendar_write_failed"
	KindInternal            Kind = "internal"
)

// Recoverable reports whether the user can fix the outcome by answering or
// retrying, as opposed to an internal failure.
func (k Kind) Recoverable() bool {
	return k != KindInternal
}

// Field names reported with KindIncomplete.
const (
	FieldDuration  = "duration"
	FieldTimeRange = "time_range"
	FieldAnchor    = "anchor"
)

// Error is the typed failure surfaced by the resolver and the negotiation
// controller. Raw collaborator errors are kept in Err for logs only.
type Error struct {
	Kind   Kind
	Fields []string
	Err    error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrIncomplete          = &Error{Kind: KindIncomplete}
	ErrAnchorNotFound      = &Error{Kind: KindAnchorNotFound}
	ErrCalendarUnavailable = &Error{Kind: KindCalendarUnavailable}
	ErrAuthExpired         = &Error{Kind: KindAuthExpired}
	ErrCalendarWriteFailed = &Error{Kind: KindCalendarWriteFailed}
	ErrInternal            = &Error{Kind: KindInternal}
)

// NewError builds an Error of the given kind wrapping cause.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// Incomplete builds a KindIncomplete error naming the missing fields.
func Incomplete(fields ...string) *Error {
	return &Error{Kind: KindIncomplete, Fields: fields}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrIncomplete)
// works regardless of fields or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// MissingFieldsOf returns the fields attached to an Incomplete error.
func MissingFieldsOf(err error) []string {
	var typed *Error
	if errors.As(err, &typed) && typed.Kind == KindIncomplete {
		return append([]string(nil), typed.Fields...)
	}
	return nil
}
