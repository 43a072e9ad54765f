package petwalk

import (
	"errors"
	"fmt"
)

// Sentinel errors for appliance communication.
// Use errors.Is() to check for these in calling code.
var (
	// ErrRequestFailed is returned when the HTTP round trip itself fails.
	ErrRequestFailed = errors.New("petwalk: request failed")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("petwalk: request timed out")

	// ErrDecode is returned when a response body is not the expected JSON object.
	ErrDecode = errors.New("petwalk: malformed response")
)

// StatusError is returned when the appliance answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("petwalk: %s %s: unexpected status code %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("petwalk: %s %s: unexpected status code %d: %s", e.Method, e.Path, e.Code, e.Body)
}
