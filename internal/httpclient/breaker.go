package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	schederrors "smartsched/internal/errors"
	"smartsched/internal/logging"
)

type circuitBreakerRoundTripper struct {
	base    http.RoundTripper
	breaker *schederrors.CircuitBreaker
}

// NewWithCircuitBreaker builds an HTTP client guarded by a circuit breaker.
func NewWithCircuitBreaker(timeout time.Duration, logger logging.Logger, name string) *http.Client {
	return NewWithCircuitBreakerConfig(timeout, logger, name, schederrors.DefaultCircuitBreakerConfig())
}

// NewWithCircuitBreakerConfig builds an HTTP client guarded by a custom circuit breaker config.
func NewWithCircuitBreakerConfig(timeout time.Duration, logger logging.Logger, name string, config schederrors.CircuitBreakerConfig) *http.Client {
	client := New(timeout, logger)
	client.Transport = WrapTransportWithCircuitBreaker(client.Transport, name, config, logger)
	return client
}

// WrapTransportWithCircuitBreaker wraps a transport with circuit breaker
// protection. 5xx and 429 responses count as failures but are still
// returned to the caller.
func WrapTransportWithCircuitBreaker(base http.RoundTripper, name string, config schederrors.CircuitBreakerConfig, logger logging.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == "" {
		name = "http-client"
	}
	return &circuitBreakerRoundTripper{
		base:    base,
		breaker: schederrors.NewCircuitBreaker(name, config, logger),
	}
}

type failureStatus int

func (s failureStatus) Error() string {
	return fmt.Sprintf("http status %d", int(s))
}

func (t *circuitBreakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	var resp *http.Response
	err := t.breaker.Execute(req.Context(), func(context.Context) error {
		var err error
		resp, err = t.base.RoundTrip(req)
		if err != nil {
			return err
		}
		if isBreakerFailureStatus(resp.StatusCode) {
			return failureStatus(resp.StatusCode)
		}
		return nil
	})
	var status failureStatus
	if errors.As(err, &status) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isBreakerFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
