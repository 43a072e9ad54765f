package coordinator

import (
	"errors"
	"fmt"
)

// ErrNotReady marks a failed startup probe. The caller should not bring the
// integration up; nothing retries it.
var ErrNotReady = errors.New("coordinator: device not ready")

// InitError is returned by Initialize when the reachability probe fails.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrNotReady, e.Err)
}

func (e *InitError) Unwrap() []error {
	return []error{ErrNotReady, e.Err}
}

// UpdateFailedError is the single failure kind for a refresh. The message of
// the underlying error is kept in the text; the error itself is wrapped.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("error communicating with API: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// IsUpdateFailed reports whether err is (or wraps) an UpdateFailedError.
func IsUpdateFailed(err error) bool {
	var uf *UpdateFailedError
	return errors.As(err, &uf)
}
