// README: Driver shift/break toggles, serialized with assignments through the driver row lock.
package dispatch

import (
	"context"
	"fmt"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

type AvailabilityCommand struct {
	DriverID     types.ID
	Availability driver.Availability
}

// SetAvailability lets a driver go available, offline or on break. Busy is
// owned by the engine; a driver holding an active booking cannot leave it.
func (s *Service) SetAvailability(ctx context.Context, cmd AvailabilityCommand) error {
	switch cmd.Availability {
	case driver.Available, driver.Offline, driver.OnBreak:
	default:
		return fmt.Errorf("%w: availability %q cannot be set directly", booking.ErrBadRequest, cmd.Availability)
	}
	return s.repo.InTx(ctx, func(tx booking.Tx) error {
		d, err := tx.LockDriver(ctx, cmd.DriverID)
		if err != nil {
			return err
		}
		if d.Availability == cmd.Availability {
			return nil
		}
		if d.Availability == driver.Busy {
			active, err := tx.ActiveBookings(ctx, []types.ID{d.ID}, "")
			if err != nil {
				return err
			}
			for _, b := range active {
				if b.Status.HoldsDriver() {
					return fmt.Errorf("%w: driver holds booking %s", booking.ErrConflict, b.ID)
				}
			}
		}
		if err := tx.SetDriverAvailability(ctx, d.ID, cmd.Availability); err != nil {
			return err
		}
		s.log.Debugw("driver availability changed", map[string]any{
			"driver_id": string(d.ID),
			"from":      string(d.Availability),
			"to":        string(cmd.Availability),
		})
		return nil
	})
}
