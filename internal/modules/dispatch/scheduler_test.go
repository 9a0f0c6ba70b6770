// README: Scheduler selection rules, isolation and single-flight tests.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/tenant"
	"fleetdispatch/internal/types"
)

func TestSchedulerSelectsOnlyDispatchableBookings(t *testing.T) {
	h := newHarness(t)
	for _, id := range []types.ID{"d1", "d2", "d3", "d4"} {
		h.addDriver(id, 1, 1)
	}
	h.store.PutSettings("stopsell", tenant.Settings{StopSell: true})
	h.store.PutSettings(tenantID, tenant.Settings{AutoAssignMinFare: 1000})

	ok := h.addBooking(1*time.Hour, func(b *booking.Booking) { b.FareEstimate = &types.Money{Amount: 1000} })
	noFare := h.addBooking(5 * time.Hour)
	past := h.addBooking(-1 * time.Minute)
	now := h.addBooking(0)
	tooFar := h.addBooking(24*time.Hour + time.Minute)
	edge := h.addBooking(24 * time.Hour)
	stopSell := h.addBooking(9*time.Hour, func(b *booking.Booking) { b.TenantID = "stopsell" })
	cheap := h.addBooking(13*time.Hour, func(b *booking.Booking) { b.FareEstimate = &types.Money{Amount: 999} })
	manual := h.addBooking(2*time.Hour, func(b *booking.Booking) { b.AssignmentMethod = booking.MethodManual })
	failed := h.addBooking(2*time.Hour, func(b *booking.Booking) { b.AssignmentMethod = booking.MethodAutoFailed })
	exhausted := h.addBooking(2*time.Hour, func(b *booking.Booking) { b.AutoAttempts = 5 })
	held := h.addBooking(2*time.Hour, func(b *booking.Booking) { b.DriverID = types.IDPtr("d9") })

	sched := NewScheduler(h.svc, time.Minute, nil, nil)
	rep, err := sched.Tick(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Considered)
	assert.Equal(t, 3, rep.Assigned)
	assert.Zero(t, rep.Failed)

	for _, id := range []types.ID{ok, noFare, edge} {
		assert.Equal(t, booking.StatusAssigned, h.booking(id).Status, "booking %s", id)
	}
	for _, id := range []types.ID{past, now, tooFar, stopSell, cheap, manual, failed, held} {
		b := h.booking(id)
		assert.Equal(t, booking.StatusPending, b.Status, "booking %s", id)
		assert.Zero(t, b.AutoAttempts, "booking %s", id)
		assert.Empty(t, h.attempts(id), "booking %s", id)
	}
	assert.Equal(t, booking.StatusPending, h.booking(exhausted).Status)
	assert.Equal(t, 5, h.booking(exhausted).AutoAttempts)
	assert.Empty(t, h.attempts(exhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ticks.WithLabelValues("ok")))
}

func TestSchedulerBatchSkipsFilteredTenants(t *testing.T) {
	h := newHarness(t, withConfig(Config{BatchSize: 2}))
	h.addDriver("d1", 1, 1)
	h.store.PutSettings("stopsell", tenant.Settings{StopSell: true})
	h.store.PutSettings(tenantID, tenant.Settings{AutoAssignMinFare: 1000})

	closed1 := h.addBooking(1*time.Hour, func(b *booking.Booking) { b.TenantID = "stopsell" })
	closed2 := h.addBooking(2*time.Hour, func(b *booking.Booking) { b.TenantID = "stopsell" })
	cheap := h.addBooking(3*time.Hour, func(b *booking.Booking) { b.FareEstimate = &types.Money{Amount: 500} })
	open := h.addBooking(5 * time.Hour)

	rep, err := NewScheduler(h.svc, time.Minute, nil, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Considered)
	assert.Equal(t, 1, rep.Assigned)
	assert.Equal(t, booking.StatusAssigned, h.booking(open).Status)
	for _, id := range []types.ID{closed1, closed2, cheap} {
		assert.Equal(t, booking.StatusPending, h.booking(id).Status, "booking %s", id)
	}
}

// flakyIndex fails for one vehicle type.
type flakyIndex struct {
	inner Eligibility
}

func (f flakyIndex) Eligible(ctx context.Context, at time.Time, vt string, tid types.ID) ([]driver.Driver, error) {
	if vt == "broken" {
		return nil, errors.New("schedule lookup failed")
	}
	return f.inner.Eligible(ctx, at, vt, tid)
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.svc.index = flakyIndex{inner: h.svc.index}
	h.addDriver("d1", 1, 1)
	bad := h.addBooking(1*time.Hour, func(b *booking.Booking) { b.VehicleType = "broken" })
	good := h.addBooking(2 * time.Hour)

	rep, err := NewScheduler(h.svc, time.Minute, nil, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Assigned)
	assert.Equal(t, booking.StatusPending, h.booking(bad).Status)
	assert.Equal(t, booking.StatusAssigned, h.booking(good).Status)
}

func TestSchedulerReportsNoDrivers(t *testing.T) {
	h := newHarness(t)
	id := h.addBooking(2 * time.Hour)

	rep, err := NewScheduler(h.svc, time.Minute, nil, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.NoDrivers)
	assert.Equal(t, booking.MethodAutoFailed, h.booking(id).AssignmentMethod)

	// auto_failed bookings are left to admins on later ticks
	rep, err = NewScheduler(h.svc, time.Minute, nil, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Considered)
}

// blockingIndex parks the first call until released.
type blockingIndex struct {
	inner   Eligibility
	entered chan struct{}
	release chan struct{}
	once    *sync.Once
}

func (b blockingIndex) Eligible(ctx context.Context, at time.Time, vt string, tid types.ID) ([]driver.Driver, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.inner.Eligible(ctx, at, vt, tid)
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	h := newHarness(t)
	idx := blockingIndex{inner: h.svc.index, entered: make(chan struct{}), release: make(chan struct{}), once: &sync.Once{}}
	h.svc.index = idx
	h.addDriver("d1", 1, 1)
	id := h.addBooking(2 * time.Hour)
	sched := NewScheduler(h.svc, time.Minute, nil, nil)

	done := make(chan TickReport)
	go func() {
		rep, _ := sched.Tick(h.ctx)
		done <- rep
	}()
	<-idx.entered

	_, err := sched.Tick(h.ctx)
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ticks.WithLabelValues("skipped")))

	close(idx.release)
	rep := <-done
	assert.Equal(t, 1, rep.Assigned)
	assert.Equal(t, booking.StatusAssigned, h.booking(id).Status)

	_, err = sched.Tick(h.ctx)
	assert.NoError(t, err, "guard is released after the tick")
}

func TestSchedulerRunWaitsForTickInFlight(t *testing.T) {
	h := newHarness(t)
	idx := blockingIndex{inner: h.svc.index, entered: make(chan struct{}), release: make(chan struct{}), once: &sync.Once{}}
	h.svc.index = idx
	h.addDriver("d1", 1, 1)
	h.addBooking(2 * time.Hour)
	sched := NewScheduler(h.svc, 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(h.ctx)
	stopped := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(stopped)
	}()
	<-idx.entered
	cancel()

	select {
	case <-stopped:
		t.Fatal("Run returned while a tick was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(idx.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the tick finished")
	}
	assert.Zero(t, testutil.ToFloat64(h.metrics.ticks.WithLabelValues("skipped")))
}

type fakeLease struct {
	grant    bool
	acquired int
	released int
}

func (l *fakeLease) Acquire(context.Context) (bool, error) {
	l.acquired++
	return l.grant, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.released++
	return nil
}

func TestSchedulerLease(t *testing.T) {
	h := newHarness(t)
	h.addDriver("d1", 1, 1)
	id := h.addBooking(2 * time.Hour)

	lease := &fakeLease{}
	rep, err := NewScheduler(h.svc, time.Minute, lease, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Considered)
	assert.Zero(t, lease.released)
	assert.Equal(t, booking.StatusPending, h.booking(id).Status)

	lease.grant = true
	rep, err = NewScheduler(h.svc, time.Minute, lease, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Assigned)
	assert.Equal(t, 1, lease.released)
}

func TestSchedulerSweepsExpiredOffers(t *testing.T) {
	h := newHarness(t, withConfig(Config{OfferTimeout: 5 * time.Minute}))
	h.addDriver("d1", 1, 1)
	h.addDriver("d2", 1, 1)
	id := h.addBooking(2 * time.Hour)
	h.assign(id)
	h.now = base.Add(6 * time.Minute)

	rep, err := NewScheduler(h.svc, time.Minute, nil, nil).Tick(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Assigned)
	b := h.booking(id)
	assert.Equal(t, types.ID("d2"), *b.DriverID)
	assert.Equal(t, 2, b.AutoAttempts)
	assert.Equal(t, 1, h.pendingCurrent(id))
}
