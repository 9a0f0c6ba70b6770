// README: Logging sink, used when no push transport is configured.
package notify

import (
	"context"

	"fleetdispatch/internal/logger"
)

type LogSink struct {
	Log logger.Logger
}

func (s LogSink) Deliver(_ context.Context, e Envelope) error {
	s.Log.Debugw("notification", map[string]any{
		"kind":       string(e.Kind),
		"audience":   string(e.Audience),
		"tenant_id":  string(e.TenantID),
		"driver_id":  string(e.DriverID),
		"booking_id": string(e.BookingID),
	})
	return nil
}
