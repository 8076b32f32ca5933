package transport

import (
	"context"
	"errors"
	"fmt"
)

// ContentTypeJSON is the content type of assembled batch bodies.
const ContentTypeJSON = "application/json"

// Sender delivers one assembled batch body to the hub. Implementations must
// not retry internally; the delivery executor owns the retry schedule.
type Sender interface {
	// Send delivers body as a single hub request. A response with a
	// non-success status surfaces as a StatusError.
	Send(ctx context.Context, body []byte, contentType string) error

	// Close releases the underlying connection resources.
	Close() error
}

// StatusError reports a hub response with a non-success status.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("hub returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("hub returned status %d: %s", e.StatusCode, e.Reason)
}

// IsStatus returns true when err is a StatusError with the given status code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
