// README: Driver directory, dated schedule entries and weekly templates.
package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

// CandidateDrivers lists dispatchable drivers of the tenant with a matching
// vehicle type. Availability is not filtered here.
func (s *Store) CandidateDrivers(ctx context.Context, tenantID types.ID, vehicleType string) ([]driver.Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+`
		FROM drivers
		WHERE tenant_id = $1
		  AND is_active AND user_active
		  AND lower(vehicle_type) = lower($2)
		ORDER BY id`, string(tenantID), strings.TrimSpace(vehicleType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []driver.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ScheduleEntries returns entries whose calendar date falls in [from, to].
// Dates travel as YYYY-MM-DD strings so the session time zone never shifts them.
func (s *Store) ScheduleEntries(ctx context.Context, driverIDs []types.ID, from, to time.Time) ([]driver.ScheduleEntry, error) {
	if len(driverIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, to_char(work_date, 'YYYY-MM-DD'), start_minute, end_minute, is_active
		FROM driver_schedule_entries
		WHERE driver_id = ANY($1)
		  AND work_date BETWEEN $2::date AND $3::date
		ORDER BY work_date, start_minute, id`,
		idStrings(driverIDs), from.Format(time.DateOnly), to.Format(time.DateOnly),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []driver.ScheduleEntry
	for rows.Next() {
		var e driver.ScheduleEntry
		var driverID, date string
		if err := rows.Scan(&e.ID, &driverID, &date, &e.StartMinute, &e.EndMinute, &e.Active); err != nil {
			return nil, err
		}
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, err
		}
		e.DriverID = types.ID(driverID)
		e.Date = d
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) WeeklyTemplates(ctx context.Context, tenantID types.ID) ([]driver.WeeklyTemplate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT driver_id, weekday, start_minute, end_minute
		FROM driver_weekly_templates
		WHERE tenant_id = $1
		ORDER BY driver_id, weekday, start_minute`, string(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []driver.WeeklyTemplate
	for rows.Next() {
		var t driver.WeeklyTemplate
		var driverID string
		var weekday int
		if err := rows.Scan(&driverID, &weekday, &t.StartMinute, &t.EndMinute); err != nil {
			return nil, err
		}
		t.DriverID = types.ID(driverID)
		t.Weekday = time.Weekday(weekday)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertScheduleEntries writes entries in one batch, skipping any that
// collide with an existing (driver, date, start) row. It returns how many
// were inserted.
func (s *Store) InsertScheduleEntries(ctx context.Context, entries []driver.ScheduleEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO driver_schedule_entries (driver_id, work_date, start_minute, end_minute, is_active)
			VALUES ($1, $2::date, $3, $4, $5)
			ON CONFLICT (driver_id, work_date, start_minute) DO NOTHING`,
			string(e.DriverID), e.Date.Format(time.DateOnly), e.StartMinute, e.EndMinute, e.Active,
		)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	n := 0
	for range entries {
		tag, err := br.Exec()
		if err != nil {
			return n, err
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}
