// README: Postgres store (pgx) implementing booking, schedule and tenant persistence with row locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/tenant"
	"fleetdispatch/internal/types"
)

const uniqueViolation = "23505"

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const bookingColumns = `
	id, tenant_id, passenger_id, driver_id, status, status_version,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	pickup_at, estimated_duration_s, vehicle_type,
	fare_currency, fare_estimate, fare_final, notes,
	assignment_method, auto_attempts, failure_reason, last_attempt_at, cancel_reason,
	no_show_evidence_ids, no_show_notes,
	created_at, assigned_at, accepted_at, arrived_at, waiting_started_at,
	started_at, completed_at, cancelled_at`

// qualified prefixes every column in a column list with alias.
func qualified(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanBooking(row pgx.Row) (*booking.Booking, error) {
	var b booking.Booking
	var id, tenantID, status, method string
	var passengerID, driverID *string
	var durationS int64
	var currency string
	var fareEstimate, fareFinal *int64
	err := row.Scan(
		&id, &tenantID, &passengerID, &driverID, &status, &b.StatusVersion,
		&b.Pickup.Lat, &b.Pickup.Lng, &b.Dropoff.Lat, &b.Dropoff.Lng,
		&b.PickupAt, &durationS, &b.VehicleType,
		&currency, &fareEstimate, &fareFinal, &b.Notes,
		&method, &b.AutoAttempts, &b.FailureReason, &b.LastAttemptAt, &b.CancelReason,
		&b.NoShowEvidenceIDs, &b.NoShowNotes,
		&b.CreatedAt, &b.AssignedAt, &b.AcceptedAt, &b.ArrivedAt, &b.WaitingStartedAt,
		&b.StartedAt, &b.CompletedAt, &b.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	b.ID = types.ID(id)
	b.TenantID = types.ID(tenantID)
	b.Status = booking.Status(status)
	b.AssignmentMethod = booking.AssignmentMethod(method)
	b.PassengerID = toIDPtr(passengerID)
	b.DriverID = toIDPtr(driverID)
	b.EstimatedDuration = time.Duration(durationS) * time.Second
	b.FareEstimate = toMoney(fareEstimate, currency)
	b.FareFinal = toMoney(fareFinal, currency)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*booking.Booking, error) {
	defer rows.Close()
	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// booking.Repository

func (s *Store) Create(ctx context.Context, b *booking.Booking) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO bookings (
			id, tenant_id, passenger_id, driver_id, status, status_version,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			pickup_at, estimated_duration_s, vehicle_type,
			fare_currency, fare_estimate, notes, assignment_method, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18
		)`,
		string(b.ID), string(b.TenantID), fromIDPtr(b.PassengerID), fromIDPtr(b.DriverID),
		string(b.Status), b.StatusVersion,
		b.Pickup.Lat, b.Pickup.Lng, b.Dropoff.Lat, b.Dropoff.Lng,
		b.PickupAt, int64(b.EstimatedDuration/time.Second), b.VehicleType,
		currencyOf(b), amountOf(b.FareEstimate), b.Notes, string(b.AssignmentMethod), b.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: booking %s exists", booking.ErrConflict, b.ID)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*booking.Booking, error) {
	return scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id)))
}

func (s *Store) Attempts(ctx context.Context, bookingID types.ID) ([]booking.AssignmentAttempt, error) {
	rows, err := s.db.Query(ctx, `SELECT `+attemptColumns+`
		FROM assignment_attempts WHERE booking_id = $1 ORDER BY created_at, id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

func (s *Store) ListDispatchable(ctx context.Context, q booking.DispatchQuery) ([]*booking.Booking, error) {
	rows, err := s.db.Query(ctx, `SELECT `+qualified("b", bookingColumns)+`
		FROM bookings b
		LEFT JOIN tenant_settings ts ON ts.tenant_id = b.tenant_id
		WHERE b.status = 'pending'
		  AND b.driver_id IS NULL
		  AND b.assignment_method NOT IN ('manual', 'auto_failed')
		  AND b.auto_attempts < $1
		  AND b.pickup_at > $2 AND b.pickup_at <= $3
		  AND NOT COALESCE(ts.stop_sell, FALSE)
		  AND (b.fare_estimate IS NULL
		       OR COALESCE(ts.auto_assign_min_fare, 0) <= 0
		       OR b.fare_estimate >= ts.auto_assign_min_fare)
		ORDER BY b.pickup_at, b.id
		LIMIT $4`,
		q.CascadeLimit, q.After, q.Until, limitArg(q.Limit),
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (s *Store) ListExpiredAttempts(ctx context.Context, now time.Time, limit int) ([]booking.AssignmentAttempt, error) {
	rows, err := s.db.Query(ctx, `SELECT `+attemptColumns+`
		FROM assignment_attempts
		WHERE status = 'pending' AND is_current AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// InTx runs fn inside a read-committed transaction. Row locks taken through
// the Tx are held until commit or rollback.
func (s *Store) InTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	pgtx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = pgtx.Rollback(ctx) }()
	if err := fn(&tx{q: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

// Driver reads a driver profile outside any transaction.
func (s *Store) Driver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	return scanDriver(s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id)))
}

// tenant.SettingsProvider

func (s *Store) Settings(ctx context.Context, tenantID types.ID) (tenant.Settings, error) {
	var st tenant.Settings
	err := s.db.QueryRow(ctx, `
		SELECT stop_sell, auto_assign_min_fare FROM tenant_settings WHERE tenant_id = $1`,
		string(tenantID),
	).Scan(&st.StopSell, &st.AutoAssignMinFare)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Settings{}, nil
	}
	return st, err
}

func limitArg(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	return types.IDPtr(types.ID(*v))
}

func fromIDPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toMoney(amount *int64, currency string) *types.Money {
	if amount == nil {
		return nil
	}
	return &types.Money{Amount: *amount, Currency: currency}
}

func amountOf(m *types.Money) *int64 {
	if m == nil {
		return nil
	}
	n := m.Amount
	return &n
}

// currencyOf picks the currency recorded for both fares on the row.
func currencyOf(b *booking.Booking) string {
	for _, m := range []*types.Money{b.FareFinal, b.FareEstimate} {
		if m != nil && strings.TrimSpace(m.Currency) != "" {
			return m.Currency
		}
	}
	return types.DefaultCurrency
}
