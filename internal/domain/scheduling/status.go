package scheduling

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusConfirmed   Status = "CONFIRMED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusRescheduled Status = "RESCHEDULED"
)

// statusTransitions is the single source of truth for the appointment
// lifecycle. Terminal states map to an empty list. The derived predicates
// below read this table instead of encoding per-state logic of their own.
var statusTransitions = map[Status][]Status{
	StatusConfirmed:   {StatusInProgress, StatusCancelled, StatusRescheduled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusRescheduled: {StatusInProgress, StatusCancelled, StatusRescheduled},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle table permits moving from
// s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsFinal reports whether s is terminal.
func (s Status) IsFinal() bool {
	next, ok := statusTransitions[s]
	return ok && len(next) == 0
}

// IsModifiable reports whether the appointment's time and details may
// still change: exactly the states from which a reschedule is legal.
func (s Status) IsModifiable() bool {
	return s.CanTransitionTo(StatusRescheduled)
}

// IsCancellable reports whether a cancellation is still legal.
func (s Status) IsCancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
	return s, nil
}
