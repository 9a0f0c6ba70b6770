// README: Driver eligibility index: who is on shift, active and driving the right vehicle at a pickup time.
package schedule

import (
	"context"
	"sort"
	"time"

	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

// Directory is the read side the index needs from storage.
type Directory interface {
	// CandidateDrivers returns active drivers with active user accounts in
	// the tenant whose vehicle type matches case-insensitively.
	CandidateDrivers(ctx context.Context, tenantID types.ID, vehicleType string) ([]driver.Driver, error)
	// ScheduleEntries returns entries for driverIDs dated between from and
	// to, both inclusive by calendar date.
	ScheduleEntries(ctx context.Context, driverIDs []types.ID, from, to time.Time) ([]driver.ScheduleEntry, error)
}

type Index struct {
	dir Directory
	loc *time.Location
}

// NewIndex interprets schedule dates and times of day in loc. A nil loc
// means UTC.
func NewIndex(dir Directory, loc *time.Location) *Index {
	if loc == nil {
		loc = time.UTC
	}
	return &Index{dir: dir, loc: loc}
}

func (x *Index) Location() *time.Location { return x.loc }

// Eligible returns the drivers who may take a pickup at pickupAt, ordered by
// fleet priority, then driver priority, then id.
func (x *Index) Eligible(ctx context.Context, pickupAt time.Time, vehicleType string, tenantID types.ID) ([]driver.Driver, error) {
	drivers, err := x.dir.CandidateDrivers(ctx, tenantID, vehicleType)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		return nil, nil
	}
	ids := make([]types.ID, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID)
	}

	local := pickupAt.In(x.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, x.loc)
	// The previous day is included for windows that run past midnight.
	entries, err := x.dir.ScheduleEntries(ctx, ids, day.AddDate(0, 0, -1), day)
	if err != nil {
		return nil, err
	}
	onShift := make(map[types.ID]bool, len(entries))
	for _, e := range entries {
		if e.Covers(pickupAt, x.loc) {
			onShift[e.DriverID] = true
		}
	}

	out := make([]driver.Driver, 0, len(onShift))
	for _, d := range drivers {
		if d.TenantID != tenantID || !d.Dispatchable() || !d.MatchesVehicle(vehicleType) {
			continue
		}
		if onShift[d.ID] {
			out = append(out, d)
		}
	}
	SortByPriority(out)
	return out, nil
}

// SortByPriority orders drivers by fleet priority, driver priority and id.
func SortByPriority(ds []driver.Driver) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].FleetPriority != ds[j].FleetPriority {
			return ds[i].FleetPriority < ds[j].FleetPriority
		}
		if ds[i].PriorityLevel != ds[j].PriorityLevel {
			return ds[i].PriorityLevel < ds[j].PriorityLevel
		}
		return ds[i].ID < ds[j].ID
	})
}
