// README: Booking handlers: create, read, admin dispatch actions, cancel, no-show review and override.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fleetdispatch/internal/http/middleware"
	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/dispatch"
	"fleetdispatch/internal/types"
)

type BookingHandler struct {
	bookings *booking.Service
	dispatch *dispatch.Service
	timeline booking.Timeline
}

// NewBookingHandler accepts a nil timeline; the events endpoint then
// answers 404.
func NewBookingHandler(bookings *booking.Service, dispatchSvc *dispatch.Service, timeline booking.Timeline) *BookingHandler {
	return &BookingHandler{bookings: bookings, dispatch: dispatchSvc, timeline: timeline}
}

type createBookingReq struct {
	TenantID         string    `json:"tenant_id"`
	PassengerID      string    `json:"passenger_id"`
	PickupLat        float64   `json:"pickup_lat"`
	PickupLng        float64   `json:"pickup_lng"`
	DropoffLat       float64   `json:"dropoff_lat"`
	DropoffLng       float64   `json:"dropoff_lng"`
	PickupAt         time.Time `json:"pickup_at"`
	EstimatedMinutes int       `json:"estimated_duration_minutes"`
	VehicleType      string    `json:"vehicle_type"`
	FareEstimate     *int64    `json:"fare_estimate"`
	Currency         string    `json:"currency"`
	Notes            string    `json:"notes"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	caller := middleware.Caller(c)
	passengerID := types.ID(req.PassengerID)
	if caller.Type == booking.ActorPassenger {
		if passengerID != "" && passengerID != middleware.CallerID(c) {
			writeError(c, http.StatusForbidden, "cannot book for another passenger")
			return
		}
		passengerID = middleware.CallerID(c)
	}
	cmd := booking.CreateCommand{
		TenantID:          types.ID(req.TenantID),
		PassengerID:       passengerID,
		Pickup:            types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:           types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
		PickupAt:          req.PickupAt,
		EstimatedDuration: time.Duration(req.EstimatedMinutes) * time.Minute,
		VehicleType:       req.VehicleType,
		Notes:             req.Notes,
	}
	if req.FareEstimate != nil {
		cmd.FareEstimate = &types.Money{Amount: *req.FareEstimate, Currency: currencyOr(req.Currency)}
	}
	id, err := h.bookings.Create(c.Request.Context(), cmd)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"booking_id": id, "status": booking.StatusPending})
}

func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.bookings.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewBooking(b))
}

func (h *BookingHandler) Attempts(c *gin.Context) {
	as, err := h.bookings.Attempts(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]gin.H, 0, len(as))
	for _, a := range as {
		out = append(out, gin.H{
			"id":               a.ID,
			"driver_id":        a.DriverID,
			"method":           a.Method,
			"status":           a.Status,
			"is_current":       a.IsCurrent,
			"rejection_reason": a.RejectionReason,
			"created_at":       a.CreatedAt,
			"responded_at":     a.RespondedAt,
			"expires_at":       a.ExpiresAt,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"attempts": out})
}

func (h *BookingHandler) Events(c *gin.Context) {
	if h.timeline == nil {
		writeError(c, http.StatusNotFound, "timeline unavailable")
		return
	}
	id := types.ID(c.Param("id"))
	if _, err := h.bookings.Get(c.Request.Context(), id); err != nil {
		writeBookingError(c, err)
		return
	}
	evs, err := h.timeline.Events(c.Request.Context(), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]gin.H, 0, len(evs))
	for _, e := range evs {
		out = append(out, gin.H{
			"id":          e.ID,
			"type":        e.Type,
			"from_status": e.FromStatus,
			"to_status":   e.ToStatus,
			"actor_type":  e.ActorType,
			"actor_id":    e.ActorID,
			"details":     e.Details,
			"created_at":  e.CreatedAt,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"events": out})
}

// Assign runs one automatic pass immediately instead of waiting for the
// next scheduler tick.
func (h *BookingHandler) Assign(c *gin.Context) {
	res, err := h.dispatch.Assign(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewResult(res))
}

type manualAssignReq struct {
	DriverID string `json:"driver_id"`
}

func (h *BookingHandler) ManualAssign(c *gin.Context) {
	var req manualAssignReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DriverID) == "" {
		writeError(c, http.StatusBadRequest, "driver_id is required")
		return
	}
	err := h.dispatch.ManuallyAssign(c.Request.Context(), dispatch.ManualAssignCommand{
		BookingID: types.ID(c.Param("id")),
		DriverID:  types.ID(req.DriverID),
		AdminID:   middleware.CallerID(c),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusAssigned, "driver_id": req.DriverID})
}

type reasonReq struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// bindOptional tolerates an empty body.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	err := h.bookings.Cancel(c.Request.Context(), booking.CancelCommand{
		BookingID: types.ID(c.Param("id")),
		Actor:     middleware.Caller(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusCancelled})
}

func (h *BookingHandler) ConfirmNoShow(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	err := h.bookings.ConfirmNoShow(c.Request.Context(), booking.ReviewNoShowCommand{
		BookingID: types.ID(c.Param("id")),
		AdminID:   middleware.CallerID(c),
		Notes:     req.Notes,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusNoShowConfirmed})
}

func (h *BookingHandler) RejectNoShow(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	err := h.bookings.RejectNoShow(c.Request.Context(), booking.ReviewNoShowCommand{
		BookingID: types.ID(c.Param("id")),
		AdminID:   middleware.CallerID(c),
		Notes:     req.Notes,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusNoShowRejected})
}

type overrideReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *BookingHandler) Override(c *gin.Context) {
	var req overrideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	status := booking.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	err := h.bookings.AdminOverride(c.Request.Context(), booking.OverrideCommand{
		BookingID: types.ID(c.Param("id")),
		AdminID:   middleware.CallerID(c),
		Status:    status,
		Reason:    req.Reason,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": status})
}

func currencyOr(c string) string {
	if c = strings.TrimSpace(c); c != "" {
		return strings.ToUpper(c)
	}
	return types.DefaultCurrency
}
