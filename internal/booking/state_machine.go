package booking

import "time"

// AllowTransition is the booking state machine as a directed graph.
var AllowTransition = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusConflict},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusConflict},
	StatusInProgress: {StatusCompleted},
	StatusConflict:   {StatusConfirmed, StatusCancelled},
	// terminal states
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	allowed, ok := AllowTransition[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(s Status) bool {
	allowed, ok := AllowTransition[s]
	return ok && len(allowed) == 0
}

// ApplyTransition moves the booking to the target status. Callers persist
// the change; the state machine only guards the graph.
func (b *Booking) ApplyTransition(to Status, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return &StateError{Op: "transition to " + string(to), Status: b.Status}
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}
