// README: Driver profile, availability and working-hours entries.
package driver

import (
	"fmt"
	"strings"
	"time"

	"fleetdispatch/internal/types"
)

type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Offline   Availability = "offline"
	OnBreak   Availability = "on_break"
)

// ParseAvailability accepts the four known values, case-insensitively.
func ParseAvailability(s string) (Availability, error) {
	a := Availability(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case Available, Busy, Offline, OnBreak:
		return a, nil
	}
	return "", fmt.Errorf("unknown availability %q", s)
}

type Driver struct {
	ID            types.ID
	TenantID      types.ID
	Availability  Availability
	Active        bool
	UserActive    bool
	PriorityLevel int
	FleetPriority int
	VehicleType   string
}

// Dispatchable reports whether the driver profile and owning user account
// both allow dispatch.
func (d Driver) Dispatchable() bool {
	return d.Active && d.UserActive
}

// MatchesVehicle compares vehicle types case-insensitively.
func (d Driver) MatchesVehicle(vehicleType string) bool {
	return strings.EqualFold(strings.TrimSpace(d.VehicleType), strings.TrimSpace(vehicleType))
}

// ScheduleEntry is a working window on one calendar date. StartMinute and
// EndMinute count minutes from local midnight; an EndMinute at or before
// StartMinute means the window runs past midnight into the next day.
type ScheduleEntry struct {
	ID          int64
	DriverID    types.ID
	Date        time.Time
	StartMinute int
	EndMinute   int
	Active      bool
}

// Bounds returns the absolute start and end of the entry in loc.
func (e ScheduleEntry) Bounds(loc *time.Location) (time.Time, time.Time) {
	y, m, d := e.Date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	start := midnight.Add(time.Duration(e.StartMinute) * time.Minute)
	end := midnight.Add(time.Duration(e.EndMinute) * time.Minute)
	if e.EndMinute <= e.StartMinute {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}

// Covers reports whether the entry is active and t falls inside its window,
// both ends inclusive.
func (e ScheduleEntry) Covers(t time.Time, loc *time.Location) bool {
	if !e.Active {
		return false
	}
	start, end := e.Bounds(loc)
	return !t.Before(start) && !t.After(end)
}

// WeeklyTemplate is a recurring working window. Templates are never consulted
// for eligibility directly; they only generate dated ScheduleEntry rows.
type WeeklyTemplate struct {
	DriverID    types.ID
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
