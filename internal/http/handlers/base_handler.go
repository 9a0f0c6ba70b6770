// README: Base handler utilities (JSON helpers, error mapping, response views).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/dispatch"
	"fleetdispatch/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type geoErrorResponse struct {
	Error     string  `json:"error"`
	Reason    string  `json:"reason"`
	DistanceM float64 `json:"distance_m"`
	AccuracyM float64 `json:"accuracy_m"`
	LimitM    float64 `json:"limit_m"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeBookingError maps engine errors onto HTTP statuses. Anything
// unrecognised is logged through gin and hidden behind a 500.
func writeBookingError(c *gin.Context, err error) {
	var geoErr *booking.GeoCheckError
	switch {
	case errors.As(err, &geoErr):
		writeJSON(c, http.StatusUnprocessableEntity, geoErrorResponse{
			Error:     geoErr.Error(),
			Reason:    string(geoErr.Reason),
			DistanceM: geoErr.Distance,
			AccuracyM: geoErr.Accuracy,
			LimitM:    geoErr.Limit,
		})
	case errors.Is(err, booking.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrDriverMismatch):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type moneyView struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func viewMoney(m *types.Money) *moneyView {
	if m == nil {
		return nil
	}
	return &moneyView{Amount: m.Amount, Currency: m.Currency}
}

type bookingView struct {
	ID                types.ID   `json:"id"`
	TenantID          types.ID   `json:"tenant_id"`
	PassengerID       *types.ID  `json:"passenger_id,omitempty"`
	DriverID          *types.ID  `json:"driver_id,omitempty"`
	Status            string     `json:"status"`
	StatusVersion     int        `json:"status_version"`
	PickupLat         float64    `json:"pickup_lat"`
	PickupLng         float64    `json:"pickup_lng"`
	DropoffLat        float64    `json:"dropoff_lat"`
	DropoffLng        float64    `json:"dropoff_lng"`
	PickupAt          time.Time  `json:"pickup_at"`
	EstimatedMinutes  float64    `json:"estimated_duration_minutes"`
	VehicleType       string     `json:"vehicle_type"`
	FareEstimate      *moneyView `json:"fare_estimate,omitempty"`
	FareFinal         *moneyView `json:"fare_final,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	AssignmentMethod  string     `json:"assignment_method,omitempty"`
	AutoAttempts      int        `json:"auto_attempts"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	CancelReason      *string    `json:"cancel_reason,omitempty"`
	NoShowEvidenceIDs []string   `json:"no_show_evidence_ids,omitempty"`
	NoShowNotes       string     `json:"no_show_notes,omitempty"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	AssignedAt        *time.Time `json:"assigned_at,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt         *time.Time `json:"arrived_at,omitempty"`
	WaitingStartedAt  *time.Time `json:"waiting_started_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

func viewBooking(b *booking.Booking) bookingView {
	return bookingView{
		ID:                b.ID,
		TenantID:          b.TenantID,
		PassengerID:       b.PassengerID,
		DriverID:          b.DriverID,
		Status:            string(b.Status),
		StatusVersion:     b.StatusVersion,
		PickupLat:         b.Pickup.Lat,
		PickupLng:         b.Pickup.Lng,
		DropoffLat:        b.Dropoff.Lat,
		DropoffLng:        b.Dropoff.Lng,
		PickupAt:          b.PickupAt,
		EstimatedMinutes:  b.EstimatedDuration.Minutes(),
		VehicleType:       b.VehicleType,
		FareEstimate:      viewMoney(b.FareEstimate),
		FareFinal:         viewMoney(b.FareFinal),
		Notes:             b.Notes,
		AssignmentMethod:  string(b.AssignmentMethod),
		AutoAttempts:      b.AutoAttempts,
		FailureReason:     b.FailureReason,
		CancelReason:      b.CancelReason,
		NoShowEvidenceIDs: b.NoShowEvidenceIDs,
		NoShowNotes:       b.NoShowNotes,
		LastAttemptAt:     b.LastAttemptAt,
		CreatedAt:         b.CreatedAt,
		AssignedAt:        b.AssignedAt,
		AcceptedAt:        b.AcceptedAt,
		ArrivedAt:         b.ArrivedAt,
		WaitingStartedAt:  b.WaitingStartedAt,
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		CancelledAt:       b.CancelledAt,
	}
}

type resultView struct {
	Outcome   string   `json:"outcome"`
	BookingID types.ID `json:"booking_id"`
	DriverID  types.ID `json:"driver_id,omitempty"`
	Attempts  int      `json:"attempts"`
}

func viewResult(r dispatch.Result) resultView {
	return resultView{Outcome: string(r.Outcome), BookingID: r.BookingID, DriverID: r.DriverID, Attempts: r.Attempts}
}
