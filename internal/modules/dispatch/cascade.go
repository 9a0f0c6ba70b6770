// README: Driver responses to offers: accept, reject, and the cascade to the next candidate.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/types"
)

type AcceptCommand struct {
	BookingID types.ID
	DriverID  types.ID
}

type RejectCommand struct {
	BookingID types.ID
	DriverID  types.ID
	Reason    string
}

// Accept moves assigned to accepted for the assigned driver only.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	var after *booking.Booking
	err := s.repo.InTx(ctx, func(tx booking.Tx) error {
		b, err := tx.LockBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if !booking.CanTransition(b.Status, booking.StatusAccepted) {
			return fmt.Errorf("%w: %s -> %s", booking.ErrInvalidTransition, b.Status, booking.StatusAccepted)
		}
		if !b.AssignedTo(cmd.DriverID) {
			return booking.ErrDriverMismatch
		}
		now := s.now()
		a, err := tx.CurrentAttempt(ctx, b.ID)
		if err != nil {
			return err
		}
		if a != nil {
			a.Status = booking.AttemptAccepted
			a.RespondedAt = &now
			if err := tx.UpdateAttempt(ctx, a); err != nil {
				return err
			}
		}
		if err := b.MoveTo(booking.StatusAccepted, now); err != nil {
			return err
		}
		after = b
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		return err
	}
	s.record(ctx, after, booking.EventDriverAccepted, booking.StatusAssigned, booking.StatusAccepted, booking.DriverActor(cmd.DriverID), nil)
	return nil
}

// Reject declines the current offer. Depending on the booking it is queued
// for the next candidate, closed as cascade_exhausted, or handed back to
// admins when the driver had been chosen manually.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) (Result, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = booking.ReasonDriverRejected
	}
	return s.decline(ctx, declineCommand{
		bookingID: cmd.BookingID,
		driverID:  cmd.DriverID,
		status:    booking.AttemptRejected,
		reason:    reason,
		actor:     booking.DriverActor(cmd.DriverID),
		event:     booking.EventDriverRejected,
	})
}

type declineCommand struct {
	bookingID types.ID
	driverID  types.ID
	// attemptID, when set, must be the current attempt.
	attemptID types.ID
	status    booking.AttemptStatus
	reason    string
	actor     booking.Actor
	event     booking.EventType
}

func (s *Service) decline(ctx context.Context, cmd declineCommand) (Result, error) {
	var (
		after   *booking.Booking
		outcome Outcome
	)
	err := s.repo.InTx(ctx, func(tx booking.Tx) error {
		b, err := tx.LockBooking(ctx, cmd.bookingID)
		if err != nil {
			return err
		}
		if b.Status != booking.StatusAssigned {
			return fmt.Errorf("%w: booking is %s", booking.ErrInvalidTransition, b.Status)
		}
		if !b.AssignedTo(cmd.driverID) {
			return booking.ErrDriverMismatch
		}
		now := s.now()
		a, err := tx.CurrentAttempt(ctx, b.ID)
		if err != nil {
			return err
		}
		if cmd.attemptID != "" && (a == nil || a.ID != cmd.attemptID) {
			return fmt.Errorf("%w: attempt %s is no longer current", booking.ErrConflict, cmd.attemptID)
		}
		if a != nil {
			reason := cmd.reason
			a.Status = cmd.status
			a.IsCurrent = false
			a.RejectionReason = &reason
			a.RespondedAt = &now
			if err := tx.UpdateAttempt(ctx, a); err != nil {
				return err
			}
		}

		b.ClearDriver()
		if err := booking.ReleaseDriver(ctx, tx, cmd.driverID, b.ID); err != nil {
			return err
		}
		if err := b.MoveTo(booking.StatusPending, now); err != nil {
			return err
		}
		failure := booking.ReasonDriverRejected
		if cmd.status == booking.AttemptExpired {
			failure = booking.ReasonOfferExpired
		}
		switch {
		case b.AssignmentMethod == booking.MethodManual:
			outcome = OutcomeManualRequired
		case b.AutoAttempts >= s.cfg.CascadeLimit:
			outcome = OutcomeCascadeExhausted
			b.AssignmentMethod = booking.MethodAutoFailed
			failure = booking.ReasonCascadeExhausted
		default:
			outcome = OutcomeRequeued
		}
		b.FailureReason = &failure
		after = b
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.decline(string(cmd.status), outcome)
	s.record(ctx, after, cmd.event, booking.StatusAssigned, booking.StatusPending, cmd.actor, map[string]any{
		"driver_id": string(cmd.driverID),
		"reason":    cmd.reason,
		"attempts":  after.AutoAttempts,
		"outcome":   string(outcome),
	})
	res := Result{Outcome: outcome, BookingID: after.ID, Attempts: after.AutoAttempts}

	switch outcome {
	case OutcomeCascadeExhausted:
		s.metrics.assignment(string(booking.MethodAuto), string(OutcomeCascadeExhausted))
		s.log.Infof("booking %s: cascade exhausted after %d attempts", after.ID, after.AutoAttempts)
		s.record(ctx, after, booking.EventAssignmentExhausted, booking.StatusPending, booking.StatusPending, booking.SystemActor(), map[string]any{
			"attempts": after.AutoAttempts,
		})
		s.notifyFailed(ctx, after, booking.ReasonCascadeExhausted)
	case OutcomeManualRequired:
		s.notifyFailed(ctx, after, *after.FailureReason)
	case OutcomeRequeued:
		if !s.queue.Enqueue(after.ID) {
			s.log.Warnf("booking %s: cascade queue full, leaving it for the next scheduler tick", after.ID)
		}
	}
	return res, nil
}
