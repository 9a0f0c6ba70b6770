// README: Offer expiry sweep: a lapsed pending offer is handled exactly like a rejection.
package dispatch

import (
	"context"
	"errors"

	"fleetdispatch/internal/modules/booking"
)

// ExpireOffers declines every lapsed offer and returns how many were
// expired. A booking that moved on since the listing is skipped.
func (s *Service) ExpireOffers(ctx context.Context) (int, error) {
	if s.cfg.OfferTimeout <= 0 {
		return 0, nil
	}
	lapsed, err := s.repo.ListExpiredAttempts(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range lapsed {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, err := s.decline(ctx, declineCommand{
			bookingID: a.BookingID,
			driverID:  a.DriverID,
			attemptID: a.ID,
			status:    booking.AttemptExpired,
			reason:    booking.ReasonOfferExpired,
			actor:     booking.SystemActor(),
			event:     booking.EventOfferExpired,
		})
		switch {
		case err == nil:
			n++
		case errors.Is(err, booking.ErrConflict), errors.Is(err, booking.ErrInvalidTransition):
			s.log.Debugf("offer %s on booking %s already resolved", a.ID, a.BookingID)
		default:
			s.log.Errorf("expire offer %s on booking %s: %v", a.ID, a.BookingID, err)
		}
	}
	return n, nil
}
