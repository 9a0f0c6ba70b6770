// README: Firebase Cloud Messaging sink publishing to per-driver and per-tenant-admin topics.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCM struct {
	client MessageSender
}

func NewFCM(client MessageSender) *FCM {
	return &FCM{client: client}
}

// Topic returns the FCM topic for an envelope. Topic names only allow
// [a-zA-Z0-9-_.~%].
func Topic(e Envelope) string {
	if e.Audience == AudienceDriver {
		return "driver_" + string(e.DriverID)
	}
	return "tenant_" + string(e.TenantID) + "_admins"
}

func (f *FCM) Deliver(ctx context.Context, e Envelope) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	msg := &messaging.Message{
		Topic: Topic(e),
		Data: map[string]string{
			"kind":       string(e.Kind),
			"booking_id": string(e.BookingID),
			"tenant_id":  string(e.TenantID),
			"payload":    string(payload),
		},
	}
	if e.Kind == KindDriverOffer {
		msg.Android = &messaging.AndroidConfig{Priority: "high"}
		msg.Notification = &messaging.Notification{
			Title: "New trip offer",
			Body:  "A booking has been assigned to you",
		}
	}
	if _, err := f.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send %s: %w", e.Kind, err)
	}
	return nil
}
