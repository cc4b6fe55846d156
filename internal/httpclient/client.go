// Package httpclient builds the outbound HTTP clients used for model and
// calendar providers.
package httpclient

import (
	"net/http"
	"time"

	"smartsched/internal/logging"
)

// New returns a client with the given overall timeout whose transport logs
// each round trip at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingRoundTripper{base: base, logger: logging.OrNop(logger)},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("%s %s failed after %s: %v", req.Method, req.URL.Redacted(), time.Since(started), err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %s", req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(started))
	return resp, nil
}
