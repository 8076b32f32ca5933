package retry

import (
	"errors"
	"strings"
)

// Error message constants
const (
	// PermanentFailureError indicates that the attempt budget was exhausted
	PermanentFailureError = "operation permanently failed after max attempts"
)

// IsPermanentFailureError returns true if err indicates an exhausted attempt
// budget.
func IsPermanentFailureError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), PermanentFailureError)
}

// ExtractOriginalError returns the error of the last attempt when err wraps
// one, otherwise err itself.
func ExtractOriginalError(err error) error {
	if err == nil {
		return nil
	}
	if unwrapped := errors.Unwrap(err); unwrapped != nil {
		return unwrapped
	}
	return err
}
