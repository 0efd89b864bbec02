package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrConfigurationMissing is returned when a required AI setting is blank.
	ErrConfigurationMissing = errors.New("ai configuration missing")

	// ErrInvalidQuery is returned when the search query text is empty.
	ErrInvalidQuery = errors.New("query text is empty")

	// ErrBuildInProgress is returned when a vector build is already running
	// for the owner.
	ErrBuildInProgress = errors.New("vector build already in progress")

	// ErrUpstreamUnavailable is returned on transport-level provider failures.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")

	// ErrStreamInterrupted is returned when a chat stream fails mid-read.
	// The partial accumulated text is returned alongside it.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrDecode is returned when the provider response cannot be decoded.
	ErrDecode = errors.New("decode error")

	// ErrNotFound is returned when a requested record is not found.
	ErrNotFound = errors.New("not found")
)

// UpstreamStatusError is returned when the provider answers with a non-2xx
// status. It keeps the status code and a body snippet for display and logging.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// NewUpstreamStatusError creates an UpstreamStatusError, truncating the body
// to keep error strings loggable.
func NewUpstreamStatusError(status int, body []byte) *UpstreamStatusError {
	const maxBody = 512
	b := string(body)
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	return &UpstreamStatusError{StatusCode: status, Body: b}
}
