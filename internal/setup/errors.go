package setup

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by StartSession when the user already
	// has a session in progress.
	ErrAlreadyActive = errors.New("setup: session already active")
	// ErrChannelCreation is returned by StartSession when the side channel
	// could not be opened or greeted. No session is stored.
	ErrChannelCreation = errors.New("setup: side channel unavailable")
)

// ValidationError rejects a step answer or an incomplete build. Reason is
// written for the user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "setup: " + e.Reason
	}
	return fmt.Sprintf("setup: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
