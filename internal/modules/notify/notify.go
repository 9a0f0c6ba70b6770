// README: Notification contract used by the dispatch engine, plus fan-out helpers.
package notify

import (
	"context"
	"errors"
	"time"

	"fleetdispatch/internal/types"
)

type Kind string

const (
	KindDriverOffer         Kind = "driver_offer"
	KindAssignmentSucceeded Kind = "assignment_succeeded"
	KindAssignmentFailed    Kind = "assignment_failed"
	KindNoShowAlert         Kind = "no_show_alert"
)

type Audience string

const (
	AudienceDriver Audience = "driver"
	AudienceAdmins Audience = "admins"
)

type Offer struct {
	TenantID  types.ID    `json:"tenant_id"`
	BookingID types.ID    `json:"booking_id"`
	DriverID  types.ID    `json:"driver_id"`
	PickupAt  time.Time   `json:"pickup_at"`
	Pickup    types.Point `json:"pickup"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Attempt   int         `json:"attempt"`
}

type AssignmentSucceeded struct {
	TenantID  types.ID `json:"tenant_id"`
	BookingID types.ID `json:"booking_id"`
	DriverID  types.ID `json:"driver_id"`
	Method    string   `json:"method"`
	Attempt   int      `json:"attempt"`
}

type AssignmentFailed struct {
	TenantID  types.ID `json:"tenant_id"`
	BookingID types.ID `json:"booking_id"`
	Reason    string   `json:"reason"`
	Attempts  int      `json:"attempts"`
}

type NoShowAlert struct {
	TenantID    types.ID `json:"tenant_id"`
	BookingID   types.ID `json:"booking_id"`
	DriverID    types.ID `json:"driver_id"`
	EvidenceIDs []string `json:"evidence_ids"`
	Notes       string   `json:"notes,omitempty"`
}

// Notifier is the typed broadcast contract of the dispatch engine.
type Notifier interface {
	NotifyDriverOffer(ctx context.Context, o Offer) error
	NotifyAdminAssignmentSucceeded(ctx context.Context, n AssignmentSucceeded) error
	NotifyAdminAssignmentFailed(ctx context.Context, n AssignmentFailed) error
	NotifyAdminNoShowAlert(ctx context.Context, n NoShowAlert) error
}

// Envelope is the transport-neutral form of a notification.
type Envelope struct {
	Kind      Kind      `json:"kind"`
	Audience  Audience  `json:"audience"`
	TenantID  types.ID  `json:"tenant_id"`
	DriverID  types.ID  `json:"driver_id,omitempty"`
	BookingID types.ID  `json:"booking_id"`
	SentAt    time.Time `json:"sent_at"`
	Data      any       `json:"data"`
}

// Sink delivers envelopes over one transport.
type Sink interface {
	Deliver(ctx context.Context, e Envelope) error
}

// Adapt turns a Sink into a Notifier.
func Adapt(s Sink) Notifier {
	return sinkNotifier{sink: s}
}

type sinkNotifier struct {
	sink Sink
}

func (n sinkNotifier) NotifyDriverOffer(ctx context.Context, o Offer) error {
	return n.sink.Deliver(ctx, Envelope{
		Kind: KindDriverOffer, Audience: AudienceDriver,
		TenantID: o.TenantID, DriverID: o.DriverID, BookingID: o.BookingID,
		SentAt: time.Now().UTC(), Data: o,
	})
}

func (n sinkNotifier) NotifyAdminAssignmentSucceeded(ctx context.Context, a AssignmentSucceeded) error {
	return n.sink.Deliver(ctx, Envelope{
		Kind: KindAssignmentSucceeded, Audience: AudienceAdmins,
		TenantID: a.TenantID, DriverID: a.DriverID, BookingID: a.BookingID,
		SentAt: time.Now().UTC(), Data: a,
	})
}

func (n sinkNotifier) NotifyAdminAssignmentFailed(ctx context.Context, a AssignmentFailed) error {
	return n.sink.Deliver(ctx, Envelope{
		Kind: KindAssignmentFailed, Audience: AudienceAdmins,
		TenantID: a.TenantID, BookingID: a.BookingID,
		SentAt: time.Now().UTC(), Data: a,
	})
}

func (n sinkNotifier) NotifyAdminNoShowAlert(ctx context.Context, a NoShowAlert) error {
	return n.sink.Deliver(ctx, Envelope{
		Kind: KindNoShowAlert, Audience: AudienceAdmins,
		TenantID: a.TenantID, DriverID: a.DriverID, BookingID: a.BookingID,
		SentAt: time.Now().UTC(), Data: a,
	})
}

// Multi delivers to every sink and joins their errors. One failing
// transport does not stop delivery on the others.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, e Envelope) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Deliver(context.Context, Envelope) error { return nil }
