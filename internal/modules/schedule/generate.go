// README: Expands weekly templates into dated schedule entries.
package schedule

import (
	"context"
	"time"

	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

type TemplateStore interface {
	WeeklyTemplates(ctx context.Context, tenantID types.ID) ([]driver.WeeklyTemplate, error)
	// InsertScheduleEntries skips entries whose (driver, date, start) already
	// exists and reports how many rows were written.
	InsertScheduleEntries(ctx context.Context, entries []driver.ScheduleEntry) (int, error)
}

// Expand returns the dated entries templates produce for days calendar days
// starting at from.
func Expand(templates []driver.WeeklyTemplate, from time.Time, days int, loc *time.Location) []driver.ScheduleEntry {
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	var out []driver.ScheduleEntry
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		for _, t := range templates {
			if t.Weekday != date.Weekday() {
				continue
			}
			out = append(out, driver.ScheduleEntry{
				DriverID:    t.DriverID,
				Date:        date,
				StartMinute: t.StartMinute,
				EndMinute:   t.EndMinute,
				Active:      true,
			})
		}
	}
	return out
}

// Generate writes dated entries for a tenant. Existing entries win, so a
// regenerated day never overrides an edited one.
func Generate(ctx context.Context, store TemplateStore, tenantID types.ID, from time.Time, days int, loc *time.Location) (int, error) {
	templates, err := store.WeeklyTemplates(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	entries := Expand(templates, from, days, loc)
	if len(entries) == 0 {
		return 0, nil
	}
	return store.InsertScheduleEntries(ctx, entries)
}
