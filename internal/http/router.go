// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetdispatch/internal/http/handlers"
	"fleetdispatch/internal/http/middleware"
	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/dispatch"
	"fleetdispatch/internal/modules/notify"
)

type RouterDeps struct {
	Bookings *booking.Service
	Dispatch *dispatch.Service
	// Timeline is optional and backs GET /api/bookings/:id/events.
	Timeline booking.Timeline
	// Hub is optional; without it the /ws routes are not registered.
	Hub *notify.Hub
	// Gatherer defaults to the prometheus default gatherer.
	Gatherer prometheus.Gatherer
	Log      logger.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = logger.NopLogger{}
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api", middleware.Actor())

	bookingHandler := handlers.NewBookingHandler(d.Bookings, d.Dispatch, d.Timeline)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.GET("/bookings/:id/attempts", bookingHandler.Attempts)
	api.GET("/bookings/:id/events", bookingHandler.Events)
	api.POST("/bookings/:id/cancel", bookingHandler.Cancel)

	admin := api.Group("/bookings/:id", middleware.RequireAdmin())
	admin.POST("/assign", bookingHandler.Assign)
	admin.POST("/manual-assign", bookingHandler.ManualAssign)
	admin.POST("/no-show/confirm", bookingHandler.ConfirmNoShow)
	admin.POST("/no-show/reject", bookingHandler.RejectNoShow)
	admin.POST("/override", bookingHandler.Override)

	driverHandler := handlers.NewDriverHandler(d.Bookings, d.Dispatch)
	drivers := api.Group("/drivers/:driverID", middleware.RequireDriverParam())
	drivers.PUT("/availability", driverHandler.SetAvailability)
	drivers.POST("/bookings/:id/accept", driverHandler.Accept)
	drivers.POST("/bookings/:id/reject", driverHandler.Reject)
	drivers.POST("/bookings/:id/arrive", driverHandler.Arrive)
	drivers.POST("/bookings/:id/start", driverHandler.Start)
	drivers.POST("/bookings/:id/complete", driverHandler.Complete)
	drivers.POST("/bookings/:id/no-show", driverHandler.NoShow)

	if d.Hub != nil {
		ws := handlers.NewWSHandler(d.Hub, log)
		r.GET("/ws/drivers/:id", ws.Driver)
		r.GET("/ws/tenants/:id/admins", ws.Admins)
	}
	return r
}
