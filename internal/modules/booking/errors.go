// README: Booking error taxonomy shared with the dispatch engine and HTTP layer.
package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("booking state conflict")
	ErrBadRequest        = errors.New("bad request")

	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)
	ErrDriverNotFound  = fmt.Errorf("driver %w", ErrNotFound)
	ErrDriverMismatch  = fmt.Errorf("booking is not assigned to this driver: %w", ErrInvalidTransition)

	ErrGeoUnverifiable = errors.New("arrival location cannot be verified")
	ErrGeoTooFar       = errors.New("arrival location too far from pickup")
)

type GeoFailure string

const (
	GeoUnverifiable GeoFailure = "unverifiable"
	GeoTooFar       GeoFailure = "too_far"
)

// GeoCheckError carries the measured values of a failed arrival check.
type GeoCheckError struct {
	Reason   GeoFailure
	Distance float64
	Accuracy float64
	Limit    float64
}

func (e *GeoCheckError) Error() string {
	if e.Reason == GeoUnverifiable {
		return fmt.Sprintf("arrival cannot be verified: location accuracy %.0fm exceeds %.0fm, admin override required", e.Accuracy, e.Limit)
	}
	return fmt.Sprintf("driver is %.0fm from pickup, must be within %.0fm", e.Distance, e.Limit)
}

func (e *GeoCheckError) Unwrap() error {
	if e.Reason == GeoUnverifiable {
		return ErrGeoUnverifiable
	}
	return ErrGeoTooFar
}
