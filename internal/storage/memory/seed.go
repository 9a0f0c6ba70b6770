// README: Seed file loader for the in-memory store (YAML or JSON via koanf).
package memory

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/tenant"
	"fleetdispatch/internal/types"
)

type Seed struct {
	Tenants   []SeedTenant   `json:"tenants"`
	Drivers   []SeedDriver   `json:"drivers"`
	Schedule  []SeedEntry    `json:"schedule"`
	Templates []SeedTemplate `json:"templates"`
}

type SeedTenant struct {
	ID                string `json:"id"`
	StopSell          bool   `json:"stop_sell"`
	AutoAssignMinFare int64  `json:"auto_assign_min_fare"`
}

type SeedDriver struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	VehicleType   string `json:"vehicle_type"`
	PriorityLevel int    `json:"priority_level"`
	FleetPriority int    `json:"fleet_priority"`
	Availability  string `json:"availability"`
	Suspended     bool   `json:"suspended"`
	UserInactive  bool   `json:"user_inactive"`
}

type SeedEntry struct {
	DriverID string `json:"driver_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Inactive bool   `json:"inactive"`
}

type SeedTemplate struct {
	TenantID string `json:"tenant_id"`
	DriverID string `json:"driver_id"`
	Weekday  string `json:"weekday"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

// LoadSeed reads a seed file; the format follows the extension.
func LoadSeed(path string) (*Seed, error) {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported seed format: %s", filepath.Ext(path))
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	var s Seed
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	return &s, nil
}

// Apply loads the seed into the store.
func (s *Store) Apply(seed *Seed) error {
	for _, t := range seed.Tenants {
		s.PutSettings(types.ID(t.ID), tenant.Settings{StopSell: t.StopSell, AutoAssignMinFare: t.AutoAssignMinFare})
	}
	for _, d := range seed.Drivers {
		avail := driver.Available
		if d.Availability != "" {
			a, err := driver.ParseAvailability(d.Availability)
			if err != nil {
				return fmt.Errorf("driver %s: %w", d.ID, err)
			}
			avail = a
		}
		s.PutDriver(driver.Driver{
			ID:            types.ID(d.ID),
			TenantID:      types.ID(d.TenantID),
			Availability:  avail,
			Active:        !d.Suspended,
			UserActive:    !d.UserInactive,
			PriorityLevel: d.PriorityLevel,
			FleetPriority: d.FleetPriority,
			VehicleType:   d.VehicleType,
		})
	}
	for _, e := range seed.Schedule {
		date, err := time.Parse(time.DateOnly, e.Date)
		if err != nil {
			return fmt.Errorf("schedule entry for %s: %w", e.DriverID, err)
		}
		start, end, err := parseWindow(e.Start, e.End)
		if err != nil {
			return fmt.Errorf("schedule entry for %s: %w", e.DriverID, err)
		}
		s.PutScheduleEntry(driver.ScheduleEntry{
			DriverID: types.ID(e.DriverID), Date: date,
			StartMinute: start, EndMinute: end, Active: !e.Inactive,
		})
	}
	for _, t := range seed.Templates {
		wd, err := parseWeekday(t.Weekday)
		if err != nil {
			return fmt.Errorf("template for %s: %w", t.DriverID, err)
		}
		start, end, err := parseWindow(t.Start, t.End)
		if err != nil {
			return fmt.Errorf("template for %s: %w", t.DriverID, err)
		}
		s.PutTemplate(types.ID(t.TenantID), driver.WeeklyTemplate{
			DriverID: types.ID(t.DriverID), Weekday: wd, StartMinute: start, EndMinute: end,
		})
	}
	return nil
}

func parseWindow(start, end string) (int, int, error) {
	s, err := driver.ParseClock(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := driver.ParseClock(end)
	if err != nil {
		return 0, 0, err
	}
	return s, e, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
