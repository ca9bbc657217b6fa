package platform

import (
	"fmt"
	"sort"
)

// EnergyKind classifies how a device's energy usage is determined.
type EnergyKind string

// Energy kinds.
const (
	// EnergyNone means the device reports no energy usage.
	EnergyNone EnergyKind = "none"

	// EnergyCalculated means usage is interpolated from the energy map
	// and the device's machine status.
	EnergyCalculated EnergyKind = "calculated"

	// EnergySensor means usage is measured and reported by the device
	// itself; no interpolation applies.
	EnergySensor EnergyKind = "sensor"
)

// Breakpoint is one (percent, rate) point of an energy map.
type Breakpoint struct {
	// Percent is the machine status level, typically in [0, 1].
	Percent float64 `yaml:"percent" json:"percent"`

	// Rate is the power draw at that level (e.g. watts).
	Rate float64 `yaml:"rate" json:"rate"`
}

// EnergyMap is an ordered set of breakpoints used to interpolate power
// draw from a device's machine status.
type EnergyMap []Breakpoint

// NewEnergyMap builds a map from percent → rate pairs, sorted by percent.
func NewEnergyMap(points map[float64]float64) EnergyMap {
	em := make(EnergyMap, 0, len(points))
	for pct, rate := range points {
		em = append(em, Breakpoint{Percent: pct, Rate: rate})
	}
	sort.Slice(em, func(i, j int) bool { return em[i].Percent < em[j].Percent })
	return em
}

// Rate linearly interpolates the power draw for a machine status.
//
// The two breakpoints bracketing status are located and the rate is
// interpolated between them. A status exactly on a breakpoint returns
// that breakpoint's rate.
//
// Parameters:
//   - status: The device's machine status level
//
// Returns:
//   - float64: Interpolated rate
//   - error: ErrEnergyRange if status falls outside every bracket, or
//     an error if the map has fewer than two breakpoints
func (em EnergyMap) Rate(status float64) (float64, error) {
	if len(em) < 2 {
		return 0, fmt.Errorf("platform: energy map needs at least two breakpoints, have %d", len(em))
	}

	for i := 0; i < len(em)-1; i++ {
		lo, hi := em[i], em[i+1]
		if status < lo.Percent || status > hi.Percent {
			continue
		}
		if hi.Percent == lo.Percent {
			return lo.Rate, nil
		}
		frac := (status - lo.Percent) / (hi.Percent - lo.Percent)
		return lo.Rate + frac*(hi.Rate-lo.Rate), nil
	}

	return 0, fmt.Errorf("%w: status %v not within [%v, %v]",
		ErrEnergyRange, status, em[0].Percent, em[len(em)-1].Percent)
}
