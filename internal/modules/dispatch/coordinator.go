// README: Assignment coordinator: commits one driver to a booking atomically (auto and manual).
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

type ManualAssignCommand struct {
	BookingID types.ID
	DriverID  types.ID
	AdminID   types.ID
}

// Assign runs one automatic assignment pass. Running out of candidates is
// reported as OutcomeNoEligibleDrivers, not as an error. ErrConflict means
// the booking stopped being assignable between the read and the lock.
func (s *Service) Assign(ctx context.Context, bookingID types.ID) (Result, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if b.Status != booking.StatusPending || b.HasDriver() {
		return Result{}, fmt.Errorf("%w: booking is %s", booking.ErrInvalidTransition, b.Status)
	}
	eligible, err := s.index.Eligible(ctx, b.PickupAt, b.VehicleType, b.TenantID)
	if err != nil {
		return Result{}, fmt.Errorf("eligible drivers: %w", err)
	}

	var (
		after   *booking.Booking
		attempt *booking.AssignmentAttempt
	)
	err = s.repo.InTx(ctx, func(tx booking.Tx) error {
		after, attempt = nil, nil
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != booking.StatusPending || b.HasDriver() {
			return fmt.Errorf("%w: booking is %s", booking.ErrConflict, b.Status)
		}
		candidates, err := s.candidates(ctx, tx, b, eligible)
		if err != nil {
			return err
		}
		now := s.now()

		var cursor *booking.Cursor
		if len(candidates) > 0 {
			if cursor, err = tx.LockCursor(ctx, b.TenantID); err != nil {
				return err
			}
		}
		var chosen driver.Driver
		for len(candidates) > 0 {
			pick, _ := Select(candidates, cursor.LastDriverID)
			d, err := tx.LockDriver(ctx, pick.ID)
			if err != nil && !errors.Is(err, booking.ErrNotFound) {
				return err
			}
			if err == nil && d.Dispatchable() {
				chosen = *d
				break
			}
			candidates = without(candidates, pick.ID)
		}
		if chosen.ID == "" {
			b.AssignmentMethod = booking.MethodAutoFailed
			reason := booking.ReasonNoEligibleDrivers
			b.FailureReason = &reason
			b.LastAttemptAt = &now
			after = b
			return tx.SaveBooking(ctx, b)
		}

		if err := tx.SetDriverAvailability(ctx, chosen.ID, driver.Busy); err != nil {
			return err
		}
		b.DriverID = types.IDPtr(chosen.ID)
		if err := b.MoveTo(booking.StatusAssigned, now); err != nil {
			return err
		}
		b.AssignmentMethod = booking.MethodAuto
		b.AutoAttempts++
		b.FailureReason = nil
		b.LastAttemptAt = &now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}

		a := &booking.AssignmentAttempt{
			ID:        types.NewID(),
			BookingID: b.ID,
			DriverID:  chosen.ID,
			Method:    booking.MethodAuto,
			Status:    booking.AttemptPending,
			IsCurrent: true,
			CreatedAt: now,
		}
		if s.cfg.OfferTimeout > 0 {
			exp := now.Add(s.cfg.OfferTimeout)
			a.ExpiresAt = &exp
		}
		if err := tx.InsertAttempt(ctx, a); err != nil {
			return err
		}

		cursor.LastDriverID = types.IDPtr(chosen.ID)
		cursor.LastAssignedAt = &now
		cursor.Count++
		if err := tx.SaveCursor(ctx, cursor); err != nil {
			return err
		}
		after, attempt = b, a
		return nil
	})
	if err != nil {
		if errors.Is(err, booking.ErrConflict) {
			s.metrics.assignment(string(booking.MethodAuto), "conflict")
		}
		return Result{}, err
	}

	if attempt == nil {
		s.metrics.assignment(string(booking.MethodAuto), string(OutcomeNoEligibleDrivers))
		s.log.Infof("booking %s: no eligible drivers, manual dispatch required", after.ID)
		s.record(ctx, after, booking.EventAssignmentFailed, booking.StatusPending, booking.StatusPending, booking.SystemActor(), map[string]any{
			"reason":   booking.ReasonNoEligibleDrivers,
			"attempts": after.AutoAttempts,
		})
		s.notifyFailed(ctx, after, booking.ReasonNoEligibleDrivers)
		return Result{Outcome: OutcomeNoEligibleDrivers, BookingID: after.ID, Attempts: after.AutoAttempts}, nil
	}

	s.metrics.assignment(string(booking.MethodAuto), string(OutcomeAssigned))
	s.log.Debugw("driver assigned", map[string]any{
		"booking_id": string(after.ID),
		"driver_id":  string(attempt.DriverID),
		"attempt":    after.AutoAttempts,
	})
	s.record(ctx, after, booking.EventDriverAssigned, booking.StatusPending, booking.StatusAssigned, booking.SystemActor(), map[string]any{
		"driver_id": string(attempt.DriverID),
		"method":    string(booking.MethodAuto),
		"attempt":   after.AutoAttempts,
	})
	s.notifyAssigned(ctx, after, attempt)
	return Result{Outcome: OutcomeAssigned, BookingID: after.ID, DriverID: attempt.DriverID, Attempts: after.AutoAttempts}, nil
}

// candidates narrows eligible drivers to those who have not declined this
// booking and hold no overlapping trip.
func (s *Service) candidates(ctx context.Context, tx booking.Tx, b *booking.Booking, eligible []driver.Driver) ([]driver.Driver, error) {
	if len(eligible) == 0 {
		return nil, nil
	}
	declined, err := tx.DeclinedDrivers(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	out := eligible
	for _, id := range declined {
		out = without(out, id)
	}
	return s.conflicts.Filter(ctx, tx, b, out)
}

func without(ds []driver.Driver, id types.ID) []driver.Driver {
	out := make([]driver.Driver, 0, len(ds))
	for _, d := range ds {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}

// ManuallyAssign commits an admin-chosen driver. The attempt counter is not
// touched and the round-robin cursor does not move.
func (s *Service) ManuallyAssign(ctx context.Context, cmd ManualAssignCommand) error {
	if cmd.BookingID == "" || cmd.DriverID == "" {
		return fmt.Errorf("%w: booking and driver are required", booking.ErrBadRequest)
	}
	var (
		after   *booking.Booking
		attempt *booking.AssignmentAttempt
	)
	err := s.repo.InTx(ctx, func(tx booking.Tx) error {
		b, err := tx.LockBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if b.Status != booking.StatusPending || b.HasDriver() {
			return fmt.Errorf("%w: booking is %s", booking.ErrInvalidTransition, b.Status)
		}
		d, err := tx.LockDriver(ctx, cmd.DriverID)
		if err != nil {
			return err
		}
		if d.TenantID != b.TenantID {
			return fmt.Errorf("%w: driver belongs to another tenant", booking.ErrBadRequest)
		}
		if !d.Dispatchable() {
			return fmt.Errorf("%w: driver is not active", booking.ErrBadRequest)
		}
		if !d.MatchesVehicle(b.VehicleType) {
			return fmt.Errorf("%w: driver vehicle %q does not match %q", booking.ErrBadRequest, d.VehicleType, b.VehicleType)
		}
		free, err := s.conflicts.Filter(ctx, tx, b, []driver.Driver{*d})
		if err != nil {
			return err
		}
		if len(free) == 0 {
			return fmt.Errorf("%w: driver has an overlapping booking", booking.ErrConflict)
		}

		now := s.now()
		if err := tx.SetDriverAvailability(ctx, d.ID, driver.Busy); err != nil {
			return err
		}
		b.DriverID = types.IDPtr(d.ID)
		if err := b.MoveTo(booking.StatusAssigned, now); err != nil {
			return err
		}
		b.AssignmentMethod = booking.MethodManual
		b.FailureReason = nil
		b.LastAttemptAt = &now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		a := &booking.AssignmentAttempt{
			ID:        types.NewID(),
			BookingID: b.ID,
			DriverID:  d.ID,
			Method:    booking.MethodManual,
			Status:    booking.AttemptPending,
			IsCurrent: true,
			CreatedAt: now,
		}
		if err := tx.InsertAttempt(ctx, a); err != nil {
			return err
		}
		after, attempt = b, a
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.assignment(string(booking.MethodManual), string(OutcomeAssigned))
	s.record(ctx, after, booking.EventDriverAssigned, booking.StatusPending, booking.StatusAssigned, booking.AdminActor(cmd.AdminID), map[string]any{
		"driver_id": string(cmd.DriverID),
		"method":    string(booking.MethodManual),
	})
	s.notifyAssigned(ctx, after, attempt)
	return nil
}
