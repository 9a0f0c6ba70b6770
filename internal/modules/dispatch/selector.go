// README: Driver selection: lowest priority tier first, round robin over ties.
package dispatch

import (
	"sort"

	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/types"
)

type tier struct {
	fleet, driver int
}

func tierOf(d driver.Driver) tier {
	return tier{fleet: d.FleetPriority, driver: d.PriorityLevel}
}

func (t tier) less(o tier) bool {
	if t.fleet != o.fleet {
		return t.fleet < o.fleet
	}
	return t.driver < o.driver
}

// TopTier returns the candidates sharing the lowest (fleet priority, driver
// priority) pair, sorted by id.
func TopTier(candidates []driver.Driver) []driver.Driver {
	if len(candidates) == 0 {
		return nil
	}
	best := tierOf(candidates[0])
	for _, d := range candidates[1:] {
		if t := tierOf(d); t.less(best) {
			best = t
		}
	}
	var out []driver.Driver
	for _, d := range candidates {
		if tierOf(d) == best {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select picks the driver to offer the booking to. Within the top tier the
// driver after last wins, wrapping around; when last is not in the tier the
// first driver wins.
func Select(candidates []driver.Driver, last *types.ID) (driver.Driver, bool) {
	tied := TopTier(candidates)
	switch len(tied) {
	case 0:
		return driver.Driver{}, false
	case 1:
		return tied[0], true
	}
	if last == nil {
		return tied[0], true
	}
	for i, d := range tied {
		if d.ID == *last {
			return tied[(i+1)%len(tied)], true
		}
	}
	return tied[0], true
}
