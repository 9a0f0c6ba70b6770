// README: Persistence contracts for bookings, attempts, cursors and the event log.
package booking

import (
	"context"
	"time"

	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

// DispatchQuery selects bookings the scheduler may auto-assign: pending, no
// driver, method neither manual nor auto_failed, fewer than CascadeLimit
// attempts and pickup in (After, Until]. Bookings of stop-sell tenants and
// bookings whose fare estimate is below the tenant minimum are excluded
// before Limit applies.
type DispatchQuery struct {
	After        time.Time
	Until        time.Time
	CascadeLimit int
	Limit        int
}

// Repository is implemented by the postgres and in-memory stores.
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	Attempts(ctx context.Context, bookingID types.ID) ([]AssignmentAttempt, error)
	ListDispatchable(ctx context.Context, q DispatchQuery) ([]*Booking, error)
	// ListExpiredAttempts returns pending current attempts whose deadline
	// is at or before now, oldest first.
	ListExpiredAttempts(ctx context.Context, now time.Time, limit int) ([]AssignmentAttempt, error)
	// InTx runs fn in one transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row-locking reads and writes available inside InTx.
type Tx interface {
	// LockBooking reads the booking FOR UPDATE.
	LockBooking(ctx context.Context, id types.ID) (*Booking, error)
	SaveBooking(ctx context.Context, b *Booking) error

	// CurrentAttempt returns the pending current attempt, or nil.
	CurrentAttempt(ctx context.Context, bookingID types.ID) (*AssignmentAttempt, error)
	InsertAttempt(ctx context.Context, a *AssignmentAttempt) error
	UpdateAttempt(ctx context.Context, a *AssignmentAttempt) error
	// DeclinedDrivers lists drivers whose attempts on the booking were
	// rejected or expired.
	DeclinedDrivers(ctx context.Context, bookingID types.ID) ([]types.ID, error)

	// LockCursor creates the tenant cursor when missing and reads it FOR UPDATE.
	LockCursor(ctx context.Context, tenantID types.ID) (*Cursor, error)
	SaveCursor(ctx context.Context, c *Cursor) error

	// LockDriver reads the driver FOR UPDATE.
	LockDriver(ctx context.Context, id types.ID) (*driver.Driver, error)
	SetDriverAvailability(ctx context.Context, id types.ID, a driver.Availability) error

	// ActiveBookings returns bookings held by any of driverIDs whose status is
	// not terminal, excluding excludeID.
	ActiveBookings(ctx context.Context, driverIDs []types.ID, excludeID types.ID) ([]*Booking, error)
}

// EventLog is the append-only booking timeline.
type EventLog interface {
	Append(ctx context.Context, e Event) error
}

// Timeline is implemented by event logs that can be read back.
type Timeline interface {
	Events(ctx context.Context, bookingID types.ID) ([]Event, error)
}

// DurationEstimator predicts the trip duration between two points.
type DurationEstimator interface {
	EstimateDuration(ctx context.Context, from, to types.Point) (time.Duration, error)
}
