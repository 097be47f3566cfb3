package refresh

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of one section within a refresh cycle.
type Status string

// Section statuses. A cycle resets every launched section to pending.
const (
	StatusPending Status = "pending"
	StatusLoading Status = "loading"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Sentinel errors for status transition validation.
var (
	// ErrInvalidTransition indicates a transition the section lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalStateImmutable indicates an attempt to leave a settled status.
	ErrTerminalStateImmutable = errors.New("terminal status is immutable")

	// ErrBackwardTransition indicates an attempt to move a loading section back to pending.
	ErrBackwardTransition = errors.New("cannot transition backwards")
)

// IsTerminal reports whether the section has settled.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// ValidateTransition validates a section status transition.
//
// Valid transitions:
//   - pending → loading
//   - loading → {done, error}
//   - done/error → same status (idempotent)
//
// A pending section may also go straight to error when it never started.
func ValidateTransition(from, to Status) error {
	if from.IsTerminal() {
		if from != to {
			return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
		}

		return nil
	}

	switch from {
	case StatusPending:
		if to == StatusLoading || to == StatusError {
			return nil
		}
	case StatusLoading:
		if to == StatusPending {
			return fmt.Errorf("%w: %s → %s", ErrBackwardTransition, from, to)
		}

		if to.IsTerminal() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
