// Package errors classifies collaborator failures for retry and circuit
// breaking. Domain error kinds live in the scheduling package.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// TransientError represents an error that can be retried
type TransientError struct {
	Err        error
	StatusCode int // HTTP status code if applicable
	Message    string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried
type PermanentError struct {
	Err        error
	StatusCode int // HTTP status code if applicable
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError marks err as final.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// FromHTTPStatus classifies a non-2xx response. 429 and 5xx are transient,
// other 4xx are permanent.
func FromHTTPStatus(status int, body string) error {
	err := fmt.Errorf("http status %d: %s", status, body)
	if isTransientHTTPStatus(status) {
		return &TransientError{Err: err, StatusCode: status}
	}
	return &PermanentError{Err: err, StatusCode: status}
}

// StatusCode returns the HTTP status attached to err, or 0.
func StatusCode(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.StatusCode
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return permanentErr.StatusCode
	}
	return 0
}

// IsTransient checks if an error is retry-able
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}
	// The caller gave up; retrying would ignore that.
	if errors.Is(err, context.Canceled) {
		return false
	}
	return isNetworkError(err) || isSyscallError(err)
}

// IsPermanent checks if an error is non-retry-able
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// IsUnauthorized reports a 401/403 classification.
func IsUnauthorized(err error) bool {
	status := StatusCode(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
