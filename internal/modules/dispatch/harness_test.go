package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/notify"
	"fleetdispatch/internal/modules/schedule"
	"fleetdispatch/internal/storage/memory"
	"fleetdispatch/internal/types"
)

const tenantID types.ID = "t1"

var base = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	rec     *notify.Recorder
	metrics *Metrics
	svc     *Service
	now     time.Time
}

type option func(*Deps)

func withConfig(c Config) option { return func(d *Deps) { d.Config = c } }

func withIndex(e Eligibility) option { return func(d *Deps) { d.Index = e } }

func withQueue(q *CascadeQueue) option { return func(d *Deps) { d.Queue = q } }

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		rec:   &notify.Recorder{},
		now:   base,
	}
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	h.metrics = m
	d := Deps{
		Repo:     h.store,
		Events:   h.store,
		Index:    schedule.NewIndex(h.store, time.UTC),
		Settings: h.store,
		Notifier: notify.Adapt(h.rec),
		Metrics:  m,
		Now:      func() time.Time { return h.now },
	}
	for _, o := range opts {
		o(&d)
	}
	h.svc = NewService(d)
	return h
}

// addDriver registers a sedan driver on shift for the whole of base's day
// and the next one.
func (h *harness) addDriver(id types.ID, fleet, prio int) {
	h.store.PutDriver(driver.Driver{
		ID: id, TenantID: tenantID, Active: true, UserActive: true,
		VehicleType: "sedan", FleetPriority: fleet, PriorityLevel: prio,
		Availability: driver.Available,
	})
	for i := 0; i < 2; i++ {
		h.store.PutScheduleEntry(driver.ScheduleEntry{
			DriverID: id, Date: base.AddDate(0, 0, i), StartMinute: 0, EndMinute: 24*60 - 1, Active: true,
		})
	}
}

// addBooking stores a pending sedan booking picking up at base+in.
func (h *harness) addBooking(in time.Duration, mutate ...func(*booking.Booking)) types.ID {
	b := &booking.Booking{
		ID:                types.NewID(),
		TenantID:          tenantID,
		Status:            booking.StatusPending,
		PickupAt:          base.Add(in),
		EstimatedDuration: 30 * time.Minute,
		VehicleType:       "sedan",
		CreatedAt:         h.now,
	}
	for _, m := range mutate {
		m(b)
	}
	h.store.PutBooking(b)
	return b.ID
}

func (h *harness) booking(id types.ID) *booking.Booking {
	h.t.Helper()
	b, err := h.store.Get(h.ctx, id)
	require.NoError(h.t, err)
	return b
}

func (h *harness) driver(id types.ID) *driver.Driver {
	h.t.Helper()
	d, err := h.store.Driver(h.ctx, id)
	require.NoError(h.t, err)
	return d
}

func (h *harness) attempts(id types.ID) []booking.AssignmentAttempt {
	h.t.Helper()
	as, err := h.store.Attempts(h.ctx, id)
	require.NoError(h.t, err)
	return as
}

func (h *harness) pendingCurrent(id types.ID) int {
	n := 0
	for _, a := range h.attempts(id) {
		if a.Status == booking.AttemptPending && a.IsCurrent {
			n++
		}
	}
	return n
}

func (h *harness) eventTypes(id types.ID) []booking.EventType {
	h.t.Helper()
	evs, err := h.store.Events(h.ctx, id)
	require.NoError(h.t, err)
	out := make([]booking.EventType, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func (h *harness) assign(id types.ID) Result {
	h.t.Helper()
	res, err := h.svc.Assign(h.ctx, id)
	require.NoError(h.t, err)
	return res
}

func (h *harness) reject(id types.ID) Result {
	h.t.Helper()
	b := h.booking(id)
	require.NotNil(h.t, b.DriverID)
	res, err := h.svc.Reject(h.ctx, RejectCommand{BookingID: id, DriverID: *b.DriverID, Reason: "too far"})
	require.NoError(h.t, err)
	return res
}
