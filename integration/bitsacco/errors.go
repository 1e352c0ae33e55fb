package bitsacco

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned for 401/403 responses. Terminal: retrying the
	// same credentials cannot succeed.
	ErrAuth = errors.New("bitsacco: authentication rejected")

	// ErrNotFound is returned for 404 responses. Expected outcome for
	// lookups of unknown users or transactions, not a fault.
	ErrNotFound = errors.New("bitsacco: not found")

	// ErrInvalidConfig is returned when the client is constructed with
	// unusable configuration.
	ErrInvalidConfig = errors.New("bitsacco: invalid configuration")
)

// ClientError is a terminal 4xx response outside the typed cases above.
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("bitsacco: client error: status %d", e.StatusCode)
}

// TransientError reports that the retry budget was exhausted on
// retryable failures. Err is the last underlying cause.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("bitsacco: transient failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
