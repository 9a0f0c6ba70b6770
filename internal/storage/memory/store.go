// README: In-memory store implementing every persistence contract; used by tests and store.driver=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/tenant"
	"fleetdispatch/internal/types"
)

type state struct {
	bookings    map[types.ID]*booking.Booking
	attempts    []*booking.AssignmentAttempt
	cursors     map[types.ID]*booking.Cursor
	drivers     map[types.ID]*driver.Driver
	entries     []driver.ScheduleEntry
	templates   map[types.ID][]driver.WeeklyTemplate
	settings    map[types.ID]tenant.Settings
	nextEntryID int64
}

func (s *state) clone() *state {
	cp := &state{
		bookings:    make(map[types.ID]*booking.Booking, len(s.bookings)),
		attempts:    make([]*booking.AssignmentAttempt, 0, len(s.attempts)),
		cursors:     make(map[types.ID]*booking.Cursor, len(s.cursors)),
		drivers:     make(map[types.ID]*driver.Driver, len(s.drivers)),
		entries:     append([]driver.ScheduleEntry(nil), s.entries...),
		templates:   make(map[types.ID][]driver.WeeklyTemplate, len(s.templates)),
		settings:    make(map[types.ID]tenant.Settings, len(s.settings)),
		nextEntryID: s.nextEntryID,
	}
	for k, v := range s.bookings {
		cp.bookings[k] = v.Clone()
	}
	for _, a := range s.attempts {
		c := *a
		cp.attempts = append(cp.attempts, &c)
	}
	for k, v := range s.cursors {
		c := *v
		cp.cursors[k] = &c
	}
	for k, v := range s.drivers {
		c := *v
		cp.drivers[k] = &c
	}
	for k, v := range s.templates {
		cp.templates[k] = append([]driver.WeeklyTemplate(nil), v...)
	}
	for k, v := range s.settings {
		cp.settings[k] = v
	}
	return cp
}

// Store keeps all state behind one mutex. InTx holds it for the whole
// transaction and works on a copy, so a failed transaction leaves nothing
// behind.
type Store struct {
	mu     sync.Mutex
	st     *state
	events []booking.Event
	nextEv int64
}

func New() *Store {
	return &Store{st: &state{
		bookings:  map[types.ID]*booking.Booking{},
		cursors:   map[types.ID]*booking.Cursor{},
		drivers:   map[types.ID]*driver.Driver{},
		templates: map[types.ID][]driver.WeeklyTemplate{},
		settings:  map[types.ID]tenant.Settings{},
	}}
}

// Seeding

func (s *Store) PutDriver(d driver.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Availability == "" {
		d.Availability = driver.Available
	}
	s.st.drivers[d.ID] = &d
}

func (s *Store) PutScheduleEntry(e driver.ScheduleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextEntryID++
	e.ID = s.st.nextEntryID
	s.st.entries = append(s.st.entries, e)
}

func (s *Store) PutTemplate(tenantID types.ID, t driver.WeeklyTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.templates[tenantID] = append(s.st.templates[tenantID], t)
}

func (s *Store) PutSettings(tenantID types.ID, st tenant.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.settings[tenantID] = st
}

func (s *Store) PutCursor(c booking.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cursors[c.TenantID] = &c
}

// PutBooking stores b as is, bypassing the lifecycle.
func (s *Store) PutBooking(b *booking.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bookings[b.ID] = b.Clone()
}

// Reads used by tests and the HTTP layer

func (s *Store) Driver(_ context.Context, id types.ID) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.drivers[id]
	if !ok {
		return nil, booking.ErrDriverNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) Cursor(tenantID types.ID) (booking.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cursors[tenantID]
	if !ok {
		return booking.Cursor{}, false
	}
	return *c, true
}

// booking.Repository

func (s *Store) Create(_ context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.bookings[b.ID]; ok {
		return booking.ErrConflict
	}
	s.st.bookings[b.ID] = b.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id types.ID) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (s *Store) Attempts(_ context.Context, bookingID types.ID) ([]booking.AssignmentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.AssignmentAttempt
	for _, a := range s.st.attempts {
		if a.BookingID == bookingID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) ListDispatchable(_ context.Context, q booking.DispatchQuery) ([]*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*booking.Booking
	for _, b := range s.st.bookings {
		if b.Status != booking.StatusPending || b.HasDriver() {
			continue
		}
		if b.AssignmentMethod == booking.MethodManual || b.AssignmentMethod == booking.MethodAutoFailed {
			continue
		}
		if b.AutoAttempts >= q.CascadeLimit {
			continue
		}
		if !b.PickupAt.After(q.After) || b.PickupAt.After(q.Until) {
			continue
		}
		st := s.st.settings[b.TenantID]
		if st.StopSell || (b.FareEstimate != nil && !b.FareEstimate.AtLeast(st.AutoAssignMinFare)) {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PickupAt.Equal(out[j].PickupAt) {
			return out[i].PickupAt.Before(out[j].PickupAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) ListExpiredAttempts(_ context.Context, now time.Time, limit int) ([]booking.AssignmentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.AssignmentAttempt
	for _, a := range s.st.attempts {
		if a.Status == booking.AttemptPending && a.IsCurrent && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{st: s.st.clone()}
	if err := fn(t); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

// booking.EventLog and booking.Timeline

func (s *Store) Append(_ context.Context, e booking.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEv++
	e.ID = s.nextEv
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.events = append(s.events, e)
	return nil
}

func (s *Store) Events(_ context.Context, bookingID types.ID) ([]booking.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.Event
	for _, e := range s.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

// schedule.Directory and schedule.TemplateStore

func (s *Store) CandidateDrivers(_ context.Context, tenantID types.ID, vehicleType string) ([]driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []driver.Driver
	for _, d := range s.st.drivers {
		if d.TenantID == tenantID && d.Dispatchable() && d.MatchesVehicle(vehicleType) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ScheduleEntries(_ context.Context, driverIDs []types.ID, from, to time.Time) ([]driver.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[types.ID]bool, len(driverIDs))
	for _, id := range driverIDs {
		want[id] = true
	}
	lo, hi := from.Format(time.DateOnly), to.Format(time.DateOnly)
	var out []driver.ScheduleEntry
	for _, e := range s.st.entries {
		d := e.Date.Format(time.DateOnly)
		if want[e.DriverID] && d >= lo && d <= hi {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) WeeklyTemplates(_ context.Context, tenantID types.ID) ([]driver.WeeklyTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driver.WeeklyTemplate(nil), s.st.templates[tenantID]...), nil
}

func (s *Store) InsertScheduleEntries(_ context.Context, entries []driver.ScheduleEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range entries {
		dup := false
		for _, x := range s.st.entries {
			if x.DriverID == e.DriverID && x.StartMinute == e.StartMinute &&
				x.Date.Format(time.DateOnly) == e.Date.Format(time.DateOnly) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		s.st.nextEntryID++
		e.ID = s.st.nextEntryID
		s.st.entries = append(s.st.entries, e)
		n++
	}
	return n, nil
}

// tenant.SettingsProvider

func (s *Store) Settings(_ context.Context, tenantID types.ID) (tenant.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.settings[tenantID], nil
}

// tx mutates a private copy of the state.
type tx struct {
	st *state
}

func (t *tx) LockBooking(_ context.Context, id types.ID) (*booking.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (t *tx) SaveBooking(_ context.Context, b *booking.Booking) error {
	if _, ok := t.st.bookings[b.ID]; !ok {
		return booking.ErrBookingNotFound
	}
	t.st.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) CurrentAttempt(_ context.Context, bookingID types.ID) (*booking.AssignmentAttempt, error) {
	for _, a := range t.st.attempts {
		if a.BookingID == bookingID && a.IsCurrent && a.Status == booking.AttemptPending {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertAttempt(ctx context.Context, a *booking.AssignmentAttempt) error {
	if a.Status == booking.AttemptPending && a.IsCurrent {
		if cur, _ := t.CurrentAttempt(ctx, a.BookingID); cur != nil {
			return booking.ErrConflict
		}
	}
	c := *a
	t.st.attempts = append(t.st.attempts, &c)
	return nil
}

func (t *tx) UpdateAttempt(_ context.Context, a *booking.AssignmentAttempt) error {
	for i, x := range t.st.attempts {
		if x.ID == a.ID {
			c := *a
			t.st.attempts[i] = &c
			return nil
		}
	}
	return booking.ErrNotFound
}

func (t *tx) DeclinedDrivers(_ context.Context, bookingID types.ID) ([]types.ID, error) {
	seen := map[types.ID]bool{}
	var out []types.ID
	for _, a := range t.st.attempts {
		if a.BookingID != bookingID || seen[a.DriverID] {
			continue
		}
		if a.Status == booking.AttemptRejected || a.Status == booking.AttemptExpired {
			seen[a.DriverID] = true
			out = append(out, a.DriverID)
		}
	}
	return out, nil
}

func (t *tx) LockCursor(_ context.Context, tenantID types.ID) (*booking.Cursor, error) {
	c, ok := t.st.cursors[tenantID]
	if !ok {
		c = &booking.Cursor{TenantID: tenantID}
		t.st.cursors[tenantID] = c
	}
	cp := *c
	return &cp, nil
}

func (t *tx) SaveCursor(_ context.Context, c *booking.Cursor) error {
	cp := *c
	t.st.cursors[c.TenantID] = &cp
	return nil
}

func (t *tx) LockDriver(_ context.Context, id types.ID) (*driver.Driver, error) {
	d, ok := t.st.drivers[id]
	if !ok {
		return nil, booking.ErrDriverNotFound
	}
	cp := *d
	return &cp, nil
}

func (t *tx) SetDriverAvailability(_ context.Context, id types.ID, a driver.Availability) error {
	d, ok := t.st.drivers[id]
	if !ok {
		return booking.ErrDriverNotFound
	}
	d.Availability = a
	return nil
}

func (t *tx) ActiveBookings(_ context.Context, driverIDs []types.ID, excludeID types.ID) ([]*booking.Booking, error) {
	want := make(map[types.ID]bool, len(driverIDs))
	for _, id := range driverIDs {
		want[id] = true
	}
	var out []*booking.Booking
	for _, b := range t.st.bookings {
		if b.ID == excludeID || !b.HasDriver() || !want[*b.DriverID] || b.Status.Terminal() {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(string(out[i].ID), string(out[j].ID)) < 0 })
	return out, nil
}
