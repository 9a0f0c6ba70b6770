// README: Booking status flow (diagram) as code, plus status/timestamp mutation helpers.
package booking

import (
	"fmt"
	"time"

	"fleetdispatch/internal/types"
)

// AllowedTransitions represents the booking state flow as code. Admin
// override is the only path that bypasses it.
var AllowedTransitions = map[Status][]Status{
	StatusPending:         {StatusAssigned, StatusCancelled},
	StatusAssigned:        {StatusAccepted, StatusPending, StatusCancelled},
	StatusAccepted:        {StatusArrived, StatusCancelled},
	StatusArrived:         {StatusWaitingStarted, StatusNoShowRequested, StatusCancelled},
	StatusWaitingStarted:  {StatusStarted, StatusNoShowRequested, StatusCancelled},
	StatusStarted:         {StatusCompleted, StatusCancelled},
	StatusNoShowRequested: {StatusNoShowConfirmed, StatusNoShowRejected, StatusCancelled},
	StatusNoShowRejected:  {StatusStarted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShowConfirmed:
		return true
	}
	return false
}

// HoldsDriver reports whether a booking in status s keeps its driver
// committed to the trip.
func (s Status) HoldsDriver() bool {
	switch s {
	case StatusAssigned, StatusAccepted, StatusArrived, StatusWaitingStarted,
		StatusStarted, StatusNoShowRequested, StatusNoShowRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known booking status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusAccepted, StatusArrived, StatusWaitingStarted,
		StatusStarted, StatusCompleted, StatusCancelled, StatusNoShowRequested,
		StatusNoShowConfirmed, StatusNoShowRejected:
		return true
	}
	return false
}

// MoveTo applies a regular transition, failing with ErrInvalidTransition when
// the current status is not a valid source for to.
func (b *Booking) MoveTo(to Status, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.ForceStatus(to, now)
	return nil
}

// ForceStatus writes to without checking the transition table.
func (b *Booking) ForceStatus(to Status, now time.Time) {
	b.Status = to
	b.StatusVersion++
	t := now
	switch to {
	case StatusPending:
		b.AssignedAt = nil
		b.AcceptedAt = nil
	case StatusAssigned:
		b.AssignedAt = &t
		b.AcceptedAt = nil
	case StatusAccepted:
		b.AcceptedAt = &t
	case StatusArrived:
		b.ArrivedAt = &t
	case StatusWaitingStarted:
		b.WaitingStartedAt = &t
	case StatusStarted:
		b.StartedAt = &t
	case StatusCompleted:
		b.CompletedAt = &t
	case StatusCancelled:
		b.CancelledAt = &t
	}
}

// ClearDriver detaches the driver and returns the id that was held.
func (b *Booking) ClearDriver() (types.ID, bool) {
	if !b.HasDriver() {
		b.DriverID = nil
		return "", false
	}
	id := *b.DriverID
	b.DriverID = nil
	return id, true
}
