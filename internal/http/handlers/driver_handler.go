// README: Driver handlers: offer responses, trip progress, no-show reports and availability.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/dispatch"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/geo"
	"fleetdispatch/internal/types"
)

type DriverHandler struct {
	bookings *booking.Service
	dispatch *dispatch.Service
}

func NewDriverHandler(bookings *booking.Service, dispatchSvc *dispatch.Service) *DriverHandler {
	return &DriverHandler{bookings: bookings, dispatch: dispatchSvc}
}

func ids(c *gin.Context) (bookingID, driverID types.ID) {
	return types.ID(c.Param("id")), types.ID(c.Param("driverID"))
}

func (h *DriverHandler) Accept(c *gin.Context) {
	bookingID, driverID := ids(c)
	err := h.dispatch.Accept(c.Request.Context(), dispatch.AcceptCommand{BookingID: bookingID, DriverID: driverID})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusAccepted})
}

func (h *DriverHandler) Reject(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	bookingID, driverID := ids(c)
	res, err := h.dispatch.Reject(c.Request.Context(), dispatch.RejectCommand{BookingID: bookingID, DriverID: driverID, Reason: req.Reason})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewResult(res))
}

type arriveReq struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m"`
}

func (h *DriverHandler) Arrive(c *gin.Context) {
	var req arriveReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil || req.AccuracyM == nil {
		writeError(c, http.StatusBadRequest, "lat, lng and accuracy_m are required")
		return
	}
	bookingID, driverID := ids(c)
	err := h.bookings.MarkArrived(c.Request.Context(), booking.ArriveCommand{
		BookingID: bookingID,
		DriverID:  driverID,
		Location:  geo.Reading{Lat: *req.Lat, Lng: *req.Lng, AccuracyMeters: *req.AccuracyM},
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusWaitingStarted})
}

func (h *DriverHandler) Start(c *gin.Context) {
	bookingID, driverID := ids(c)
	if err := h.bookings.StartTrip(c.Request.Context(), booking.StartCommand{BookingID: bookingID, DriverID: driverID}); err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusStarted})
}

type completeReq struct {
	FareFinal *int64 `json:"fare_final"`
	Currency  string `json:"currency"`
	Notes     string `json:"notes"`
}

func (h *DriverHandler) Complete(c *gin.Context) {
	var req completeReq
	if !bindOptional(c, &req) {
		return
	}
	bookingID, driverID := ids(c)
	cmd := booking.CompleteCommand{BookingID: bookingID, DriverID: driverID, Notes: req.Notes}
	if req.FareFinal != nil {
		cmd.FareFinal = &types.Money{Amount: *req.FareFinal, Currency: currencyOr(req.Currency)}
	}
	if err := h.bookings.CompleteTrip(c.Request.Context(), cmd); err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusCompleted})
}

type noShowReq struct {
	EvidenceIDs []string `json:"evidence_ids"`
	Notes       string   `json:"notes"`
}

func (h *DriverHandler) NoShow(c *gin.Context) {
	var req noShowReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	bookingID, driverID := ids(c)
	err := h.bookings.RequestNoShow(c.Request.Context(), booking.NoShowCommand{
		BookingID:   bookingID,
		DriverID:    driverID,
		EvidenceIDs: req.EvidenceIDs,
		Notes:       req.Notes,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": booking.StatusNoShowRequested})
}

type availabilityReq struct {
	Availability string `json:"availability"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	a, err := driver.ParseAvailability(req.Availability)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	driverID := types.ID(c.Param("driverID"))
	if err := h.dispatch.SetAvailability(c.Request.Context(), dispatch.AvailabilityCommand{DriverID: driverID, Availability: a}); err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": driverID, "availability": a})
}
