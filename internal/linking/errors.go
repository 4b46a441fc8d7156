package linking

import (
	"errors"
	"fmt"

	"tglinkbot/internal/panel"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrSessionActive = errors.New("a linking session is already open")
	ErrNoSession     = errors.New("no linking session is open")
	ErrInFlight      = errors.New("operation in progress")
	ErrWrongState    = errors.New("action not available at this step")
	// ErrClosed is returned by a call whose session was closed before the
	// backend answered. The answer is discarded.
	ErrClosed = errors.New("session closed before the backend answered")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// StatusError reports an account status the flow has no transition for.
type StatusError struct {
	Op     string
	Status panel.AccountStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend reported status %q", e.Op, e.Status)
}
