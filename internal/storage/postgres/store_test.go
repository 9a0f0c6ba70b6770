// README: DB-backed store tests; set DISPATCH_TEST_DSN to run them.
package postgres

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/dispatch"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/schedule"
	"fleetdispatch/internal/types"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, applyMigration(ctx, db))
	_, err = db.Exec(ctx, `TRUNCATE TABLE booking_events, assignment_attempts, round_robin_cursors,
		bookings, driver_weekly_templates, driver_schedule_entries, drivers, tenant_settings, tenants`)
	require.NoError(t, err)

	_, err = db.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ('t1', 'Tenant One')`)
	require.NoError(t, err)
	return New(db), db
}

func addDriver(t *testing.T, db *pgxpool.Pool, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.Exec(ctx, `
		INSERT INTO drivers (id, tenant_id, vehicle_type, fleet_priority, priority_level)
		VALUES ($1, 't1', 'Sedan', 1, 1)`, id)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `
		INSERT INTO driver_schedule_entries (driver_id, work_date, start_minute, end_minute)
		VALUES ($1, $2::date, 0, 1439)`, id, day.Format(time.DateOnly))
	require.NoError(t, err)
}

func newBooking(pickupAt time.Time) *booking.Booking {
	return &booking.Booking{
		ID:                types.NewID(),
		TenantID:          "t1",
		PassengerID:       types.IDPtr("p1"),
		Status:            booking.StatusPending,
		Pickup:            types.Point{Lat: 25.033, Lng: 121.565},
		Dropoff:           types.Point{Lat: 25.0478, Lng: 121.5318},
		PickupAt:          pickupAt,
		EstimatedDuration: 40 * time.Minute,
		VehicleType:       "sedan",
		FareEstimate:      &types.Money{Amount: 52000, Currency: "TWD"},
		CreatedAt:         day,
	}
}

func TestBookingRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)

	b := newBooking(day.Add(9 * time.Hour))
	require.NoError(t, store.Create(ctx, b))
	assert.ErrorIs(t, store.Create(ctx, b), booking.ErrConflict)

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, got.Status)
	assert.True(t, got.PickupAt.Equal(b.PickupAt))
	assert.Equal(t, 40*time.Minute, got.EstimatedDuration)
	require.NotNil(t, got.FareEstimate)
	assert.Equal(t, int64(52000), got.FareEstimate.Amount)
	assert.Nil(t, got.DriverID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestListDispatchableFiltersTenantSettings(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)
	_, err := db.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ('t2', 'Closed Tenant')`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO tenant_settings (tenant_id, stop_sell) VALUES ('t2', TRUE)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO tenant_settings (tenant_id, auto_assign_min_fare) VALUES ('t1', 50000)`)
	require.NoError(t, err)

	for _, h := range []int{1, 2} {
		b := newBooking(day.Add(time.Duration(h) * time.Hour))
		b.TenantID = "t2"
		require.NoError(t, store.Create(ctx, b))
	}
	cheap := newBooking(day.Add(3 * time.Hour))
	cheap.FareEstimate = &types.Money{Amount: 100, Currency: "TWD"}
	require.NoError(t, store.Create(ctx, cheap))
	unpriced := newBooking(day.Add(4 * time.Hour))
	unpriced.FareEstimate = nil
	require.NoError(t, store.Create(ctx, unpriced))
	open := newBooking(day.Add(5 * time.Hour))
	require.NoError(t, store.Create(ctx, open))

	got, err := store.ListDispatchable(ctx, booking.DispatchQuery{
		After: day, Until: day.Add(24 * time.Hour), CascadeLimit: 5, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, unpriced.ID, got[0].ID)
	assert.Equal(t, open.ID, got[1].ID)
}

func TestSaveBookingInTx(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)
	addDriver(t, db, "d1")
	b := newBooking(day.Add(9 * time.Hour))
	require.NoError(t, store.Create(ctx, b))

	require.NoError(t, store.InTx(ctx, func(tx booking.Tx) error {
		locked, err := tx.LockBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		locked.DriverID = types.IDPtr("d1")
		locked.AssignmentMethod = booking.MethodAuto
		locked.AutoAttempts = 1
		locked.NoShowEvidenceIDs = []string{"e1"}
		if err := locked.MoveTo(booking.StatusAssigned, day.Add(time.Hour)); err != nil {
			return err
		}
		return tx.SaveBooking(ctx, locked)
	}))

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusAssigned, got.Status)
	assert.Equal(t, types.ID("d1"), *got.DriverID)
	assert.Equal(t, 1, got.StatusVersion)
	assert.Equal(t, []string{"e1"}, got.NoShowEvidenceIDs)
	require.NotNil(t, got.AssignedAt)
}

func TestOnePendingAttemptPerBooking(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)
	addDriver(t, db, "d1")
	addDriver(t, db, "d2")
	b := newBooking(day.Add(9 * time.Hour))
	require.NoError(t, store.Create(ctx, b))

	attempt := func(driverID types.ID) *booking.AssignmentAttempt {
		return &booking.AssignmentAttempt{
			ID: types.NewID(), BookingID: b.ID, DriverID: driverID, Method: booking.MethodAuto,
			Status: booking.AttemptPending, IsCurrent: true, CreatedAt: day,
		}
	}
	require.NoError(t, store.InTx(ctx, func(tx booking.Tx) error { return tx.InsertAttempt(ctx, attempt("d1")) }))
	err := store.InTx(ctx, func(tx booking.Tx) error { return tx.InsertAttempt(ctx, attempt("d2")) })
	assert.ErrorIs(t, err, booking.ErrConflict)

	require.NoError(t, store.InTx(ctx, func(tx booking.Tx) error {
		return booking.WithdrawOffer(ctx, tx, b.ID, booking.AttemptRejected, "busy", day)
	}))
	require.NoError(t, store.InTx(ctx, func(tx booking.Tx) error {
		declined, err := tx.DeclinedDrivers(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.ID{"d1"}, declined)
		return tx.InsertAttempt(ctx, attempt("d2"))
	}))
}

func TestScheduleEntriesKeepCalendarDate(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)
	addDriver(t, db, "d1")

	taipei, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	next := time.Date(2026, 3, 3, 0, 0, 0, 0, taipei)
	entries := []driver.ScheduleEntry{{DriverID: "d1", Date: next, StartMinute: 22 * 60, EndMinute: 6 * 60, Active: true}}

	n, err := store.InsertScheduleEntries(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.InsertScheduleEntries(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.ScheduleEntries(ctx, []types.ID{"d1"}, next, next)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2026-03-03", got[0].Date.Format(time.DateOnly))
	assert.Equal(t, 22*60, got[0].StartMinute)

	cands, err := store.CandidateDrivers(ctx, "t1", "SEDAN")
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestConcurrentAssignRotatesDrivers(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)
	addDriver(t, db, "d1")
	addDriver(t, db, "d2")

	svc := dispatch.NewService(dispatch.Deps{
		Repo:     store,
		Events:   store,
		Index:    schedule.NewIndex(store, time.UTC),
		Settings: store,
		Now:      func() time.Time { return day.Add(6 * time.Hour) },
	})

	ids := []types.ID{}
	for _, h := range []int{8, 14} {
		b := newBooking(day.Add(time.Duration(h) * time.Hour))
		require.NoError(t, store.Create(ctx, b))
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	results := make([]dispatch.Result, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Assign(ctx, id)
		}()
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, dispatch.OutcomeAssigned, results[i].Outcome)
	}
	assert.NotEqual(t, results[0].DriverID, results[1].DriverID)

	var count int64
	require.NoError(t, db.QueryRow(ctx, `SELECT assignment_count FROM round_robin_cursors WHERE tenant_id = 't1'`).Scan(&count))
	assert.Equal(t, int64(2), count)
}

func TestEventsAppendAndRead(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)
	b := newBooking(day.Add(9 * time.Hour))
	require.NoError(t, store.Create(ctx, b))

	require.NoError(t, store.Append(ctx, booking.Event{
		BookingID: b.ID, TenantID: "t1", Type: booking.EventBookingCreated,
		FromStatus: booking.StatusNone, ToStatus: booking.StatusPending,
		ActorType: booking.ActorPassenger, ActorID: types.IDPtr("p1"),
		Details: map[string]any{"vehicle_type": "sedan"}, CreatedAt: day,
	}))
	evs, err := store.Events(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, booking.EventBookingCreated, evs[0].Type)
	assert.Equal(t, "sedan", evs[0].Details["vehicle_type"])
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
