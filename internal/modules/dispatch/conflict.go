// README: Conflict detection: a driver cannot hold two bookings whose buffered trip windows overlap.
package dispatch

import (
	"context"
	"time"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

const DefaultConflictBuffer = 60 * time.Minute

// Window is a closed time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// TripWindow pads [pickup, pickup+duration] by buffer on both sides.
func TripWindow(pickup time.Time, duration, buffer time.Duration) Window {
	return Window{Start: pickup.Add(-buffer), End: pickup.Add(duration).Add(buffer)}
}

// Overlaps treats touching endpoints as overlapping.
func (w Window) Overlaps(o Window) bool {
	return !w.Start.After(o.End) && !o.Start.After(w.End)
}

type ConflictDetector struct {
	Buffer time.Duration
}

func (c ConflictDetector) window(b *booking.Booking) Window {
	buf := c.Buffer
	if buf <= 0 {
		buf = DefaultConflictBuffer
	}
	return TripWindow(b.PickupAt, b.EstimatedDuration, buf)
}

// Conflicts reports whether other would double-book the driver of b.
// Terminal bookings never conflict.
func (c ConflictDetector) Conflicts(b, other *booking.Booking) bool {
	if other.ID == b.ID || other.Status.Terminal() {
		return false
	}
	return c.window(b).Overlaps(c.window(other))
}

// Filter drops candidates holding an overlapping booking. It reads inside
// tx so the answer is consistent with the assignment being written.
func (c ConflictDetector) Filter(ctx context.Context, tx booking.Tx, b *booking.Booking, candidates []driver.Driver) ([]driver.Driver, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]types.ID, 0, len(candidates))
	for _, d := range candidates {
		ids = append(ids, d.ID)
	}
	active, err := tx.ActiveBookings(ctx, ids, b.ID)
	if err != nil {
		return nil, err
	}
	busy := make(map[types.ID]bool)
	for _, o := range active {
		if o.HasDriver() && c.Conflicts(b, o) {
			busy[*o.DriverID] = true
		}
	}
	out := make([]driver.Driver, 0, len(candidates))
	for _, d := range candidates {
		if !busy[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}
