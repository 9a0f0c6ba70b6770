// README: Notifier adapter, fan-out, FCM and WebSocket hub tests.
package notify

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptBuildsEnvelopes(t *testing.T) {
	rec := &Recorder{}
	n := Adapt(rec)
	ctx := context.Background()

	require.NoError(t, n.NotifyDriverOffer(ctx, Offer{TenantID: "t1", BookingID: "b1", DriverID: "d1", Attempt: 1}))
	require.NoError(t, n.NotifyAdminAssignmentSucceeded(ctx, AssignmentSucceeded{TenantID: "t1", BookingID: "b1", DriverID: "d1", Method: "auto"}))
	require.NoError(t, n.NotifyAdminAssignmentFailed(ctx, AssignmentFailed{TenantID: "t1", BookingID: "b1", Reason: "no_eligible_drivers"}))
	require.NoError(t, n.NotifyAdminNoShowAlert(ctx, NoShowAlert{TenantID: "t1", BookingID: "b1", DriverID: "d1", EvidenceIDs: []string{"e1"}}))

	sent := rec.Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, KindDriverOffer, sent[0].Kind)
	assert.Equal(t, AudienceDriver, sent[0].Audience)
	assert.Equal(t, AudienceAdmins, sent[1].Audience)
	assert.Equal(t, KindAssignmentFailed, sent[2].Kind)
	assert.Equal(t, KindNoShowAlert, sent[3].Kind)
	assert.Len(t, rec.OfKind(KindDriverOffer), 1)
}

type failingSink struct{ err error }

func (f failingSink) Deliver(context.Context, Envelope) error { return f.err }

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	rec := &Recorder{}
	m := Multi{failingSink{err: boom}, rec, Nop{}}

	err := m.Deliver(context.Background(), Envelope{Kind: KindDriverOffer})
	require.ErrorIs(t, err, boom)
	assert.Len(t, rec.Sent(), 1, "later sinks still receive the envelope")
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []*messaging.Message
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return "projects/x/messages/1", nil
}

func TestFCMTopics(t *testing.T) {
	sender := &fakeSender{}
	n := Adapt(NewFCM(sender))
	ctx := context.Background()

	require.NoError(t, n.NotifyDriverOffer(ctx, Offer{TenantID: "t1", BookingID: "b1", DriverID: "d9"}))
	require.NoError(t, n.NotifyAdminAssignmentFailed(ctx, AssignmentFailed{TenantID: "t1", BookingID: "b1"}))

	require.Len(t, sender.msgs, 2)
	assert.Equal(t, "driver_d9", sender.msgs[0].Topic)
	assert.Equal(t, "high", sender.msgs[0].Android.Priority)
	assert.Equal(t, string(KindDriverOffer), sender.msgs[0].Data["kind"])
	assert.Equal(t, "tenant_t1_admins", sender.msgs[1].Topic)
	assert.Nil(t, sender.msgs[1].Notification)
}

type fakeConn struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestHubRoutesByAudience(t *testing.T) {
	hub := NewHub()
	driverConn := &fakeConn{}
	adminA, adminB := &fakeConn{}, &fakeConn{}
	removeDriver := hub.Add(DriverKey("d1"), driverConn)
	hub.Add(AdminKey("t1"), adminA)
	hub.Add(AdminKey("t1"), adminB)
	assert.Equal(t, 2, hub.Count(AdminKey("t1")))

	n := Adapt(hub)
	ctx := context.Background()
	require.NoError(t, n.NotifyDriverOffer(ctx, Offer{TenantID: "t1", BookingID: "b1", DriverID: "d1"}))
	require.NoError(t, n.NotifyAdminAssignmentSucceeded(ctx, AssignmentSucceeded{TenantID: "t1", BookingID: "b1", DriverID: "d1"}))

	assert.Len(t, driverConn.frames, 1)
	assert.Len(t, adminA.frames, 1)
	assert.Len(t, adminB.frames, 1)

	removeDriver()
	assert.True(t, driverConn.closed)
	err := n.NotifyDriverOffer(ctx, Offer{TenantID: "t1", BookingID: "b2", DriverID: "d1"})
	assert.ErrorIs(t, err, ErrNoSession)

	// no admins connected for t2
	assert.NoError(t, n.NotifyAdminAssignmentFailed(ctx, AssignmentFailed{TenantID: "t2", BookingID: "b3"}))
}

func TestRedisChannels(t *testing.T) {
	p := NewRedisPublisher(nil, "")
	assert.Equal(t, "dispatch:driver:d1", p.Channel(Envelope{Audience: AudienceDriver, DriverID: "d1"}))
	assert.Equal(t, "dispatch:tenant:t1:admins", p.Channel(Envelope{Audience: AudienceAdmins, TenantID: "t1"}))
}

func TestRedisPublisherRoundTrip(t *testing.T) {
	addr := os.Getenv("DISPATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("DISPATCH_TEST_REDIS not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub := NewRedisPublisher(client, "dispatch_test")
	sub := client.Subscribe(ctx, "dispatch_test:driver:d1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, Adapt(pub).NotifyDriverOffer(ctx, Offer{TenantID: "t1", BookingID: "b1", DriverID: "d1"}))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"kind":"driver_offer"`)
}
