// README: Transaction-scoped reads and writes (FOR UPDATE locks) behind booking.Tx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

type tx struct {
	q querier
}

const attemptColumns = `
	id, booking_id, driver_id, method, status, rejection_reason,
	is_current, created_at, responded_at, expires_at`

func scanAttempt(row pgx.Row) (*booking.AssignmentAttempt, error) {
	var a booking.AssignmentAttempt
	var id, bookingID, driverID, method, status string
	err := row.Scan(&id, &bookingID, &driverID, &method, &status, &a.RejectionReason,
		&a.IsCurrent, &a.CreatedAt, &a.RespondedAt, &a.ExpiresAt)
	if err != nil {
		return nil, err
	}
	a.ID = types.ID(id)
	a.BookingID = types.ID(bookingID)
	a.DriverID = types.ID(driverID)
	a.Method = booking.AssignmentMethod(method)
	a.Status = booking.AttemptStatus(status)
	return &a, nil
}

func collectAttempts(rows pgx.Rows) ([]booking.AssignmentAttempt, error) {
	defer rows.Close()
	var out []booking.AssignmentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const driverColumns = `
	id, tenant_id, availability, is_active, user_active,
	priority_level, fleet_priority, vehicle_type`

func scanDriver(row pgx.Row) (*driver.Driver, error) {
	var d driver.Driver
	var id, tenantID, availability string
	err := row.Scan(&id, &tenantID, &availability, &d.Active, &d.UserActive,
		&d.PriorityLevel, &d.FleetPriority, &d.VehicleType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	d.ID = types.ID(id)
	d.TenantID = types.ID(tenantID)
	d.Availability = driver.Availability(availability)
	return &d, nil
}

func (t *tx) LockBooking(ctx context.Context, id types.ID) (*booking.Booking, error) {
	return scanBooking(t.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, string(id)))
}

func (t *tx) SaveBooking(ctx context.Context, b *booking.Booking) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE bookings SET
			driver_id = $2,
			status = $3,
			status_version = $4,
			estimated_duration_s = $5,
			fare_currency = $6,
			fare_estimate = $7,
			fare_final = $8,
			notes = $9,
			assignment_method = $10,
			auto_attempts = $11,
			failure_reason = $12,
			last_attempt_at = $13,
			cancel_reason = $14,
			no_show_evidence_ids = $15,
			no_show_notes = $16,
			assigned_at = $17,
			accepted_at = $18,
			arrived_at = $19,
			waiting_started_at = $20,
			started_at = $21,
			completed_at = $22,
			cancelled_at = $23
		WHERE id = $1`,
		string(b.ID), fromIDPtr(b.DriverID), string(b.Status), b.StatusVersion,
		int64(b.EstimatedDuration/time.Second),
		currencyOf(b), amountOf(b.FareEstimate), amountOf(b.FareFinal), b.Notes,
		string(b.AssignmentMethod), b.AutoAttempts, b.FailureReason, b.LastAttemptAt, b.CancelReason,
		evidenceArg(b.NoShowEvidenceIDs), b.NoShowNotes,
		b.AssignedAt, b.AcceptedAt, b.ArrivedAt, b.WaitingStartedAt,
		b.StartedAt, b.CompletedAt, b.CancelledAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (t *tx) CurrentAttempt(ctx context.Context, bookingID types.ID) (*booking.AssignmentAttempt, error) {
	a, err := scanAttempt(t.q.QueryRow(ctx, `SELECT `+attemptColumns+`
		FROM assignment_attempts
		WHERE booking_id = $1 AND status = 'pending' AND is_current
		FOR UPDATE`, string(bookingID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// InsertAttempt maps a violation of the one-pending-attempt index to
// ErrConflict.
func (t *tx) InsertAttempt(ctx context.Context, a *booking.AssignmentAttempt) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO assignment_attempts (
			id, booking_id, driver_id, method, status, rejection_reason,
			is_current, created_at, responded_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(a.ID), string(a.BookingID), string(a.DriverID), string(a.Method), string(a.Status),
		a.RejectionReason, a.IsCurrent, a.CreatedAt, a.RespondedAt, a.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: booking %s already has a pending attempt", booking.ErrConflict, a.BookingID)
	}
	return err
}

func (t *tx) UpdateAttempt(ctx context.Context, a *booking.AssignmentAttempt) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE assignment_attempts SET
			status = $2, rejection_reason = $3, is_current = $4,
			responded_at = $5, expires_at = $6
		WHERE id = $1`,
		string(a.ID), string(a.Status), a.RejectionReason, a.IsCurrent, a.RespondedAt, a.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return booking.ErrNotFound
	}
	return nil
}

func (t *tx) DeclinedDrivers(ctx context.Context, bookingID types.ID) ([]types.ID, error) {
	rows, err := t.q.Query(ctx, `
		SELECT DISTINCT driver_id FROM assignment_attempts
		WHERE booking_id = $1 AND status IN ('rejected', 'expired')
		ORDER BY driver_id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}

// LockCursor inserts the tenant's cursor row on first use and then locks it,
// so concurrent assignments in one tenant serialize on this row.
func (t *tx) LockCursor(ctx context.Context, tenantID types.ID) (*booking.Cursor, error) {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO round_robin_cursors (tenant_id) VALUES ($1)
		ON CONFLICT (tenant_id) DO NOTHING`, string(tenantID)); err != nil {
		return nil, err
	}
	var c booking.Cursor
	var last *string
	err := t.q.QueryRow(ctx, `
		SELECT last_driver_id, last_assigned_at, assignment_count
		FROM round_robin_cursors WHERE tenant_id = $1 FOR UPDATE`, string(tenantID),
	).Scan(&last, &c.LastAssignedAt, &c.Count)
	if err != nil {
		return nil, err
	}
	c.TenantID = tenantID
	c.LastDriverID = toIDPtr(last)
	return &c, nil
}

func (t *tx) SaveCursor(ctx context.Context, c *booking.Cursor) error {
	_, err := t.q.Exec(ctx, `
		UPDATE round_robin_cursors
		SET last_driver_id = $2, last_assigned_at = $3, assignment_count = $4
		WHERE tenant_id = $1`,
		string(c.TenantID), fromIDPtr(c.LastDriverID), c.LastAssignedAt, c.Count,
	)
	return err
}

func (t *tx) LockDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	return scanDriver(t.q.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1 FOR UPDATE`, string(id)))
}

func (t *tx) SetDriverAvailability(ctx context.Context, id types.ID, a driver.Availability) error {
	tag, err := t.q.Exec(ctx, `UPDATE drivers SET availability = $2 WHERE id = $1`, string(id), string(a))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return booking.ErrDriverNotFound
	}
	return nil
}

func (t *tx) ActiveBookings(ctx context.Context, driverIDs []types.ID, excludeID types.ID) ([]*booking.Booking, error) {
	if len(driverIDs) == 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE driver_id = ANY($1)
		  AND id <> $2
		  AND status NOT IN ('completed', 'cancelled', 'no_show_confirmed')
		ORDER BY id`,
		idStrings(driverIDs), string(excludeID),
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func evidenceArg(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
