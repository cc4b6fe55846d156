package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	schederrors "smartsched/internal/errors"
)

// ErrResponseTooLarge reports a body longer than the caller's limit.
var ErrResponseTooLarge = errors.New("response body too large")

const errorPreviewBytes = 256

// ReadResponse drains and closes resp.Body, reading at most limit bytes
// (limit <= 0 means no cap). Non-2xx statuses come back classified by
// schederrors.FromHTTPStatus with a preview of the body. An oversized body
// is permanent: retrying returns the same payload.
func ReadResponse(resp *http.Response, limit int64) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schederrors.FromHTTPStatus(resp.StatusCode, preview(body))
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, schederrors.NewPermanentError(
			fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, limit), "read response")
	}
	return body, nil
}

func preview(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > errorPreviewBytes {
		text = text[:errorPreviewBytes] + "..."
	}
	return text
}
