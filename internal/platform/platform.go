package platform

import (
	"fmt"
	"math"
)

// Feature describes one supported attribute of a device platform.
type Feature struct {
	// Steps is the number of discrete steps for ranged attributes
	// (e.g. 100 brightness steps). Zero means the attribute is not
	// stepped (boolean or free-form).
	Steps int `yaml:"steps" json:"steps"`
}

// Platform declares the capabilities of one device platform
// (e.g. "light", "dimmer", "relay").
//
// A device references exactly one platform; the platform decides which
// commands the device accepts, which input fields are valid, whether a
// toggle pair exists, and how energy usage is derived. Behavior
// composition happens here rather than through type hierarchies: a
// Device picks up its status-derivation and toggle behavior from its
// platform's declarations.
type Platform struct {
	// ID is the stable platform identifier (e.g. "light").
	ID string `yaml:"id" json:"id"`

	// Label is the human-readable platform name.
	Label string `yaml:"label" json:"label"`

	// AllowedCommands lists the command machine labels this platform
	// accepts.
	AllowedCommands []string `yaml:"allowed_commands" json:"allowed_commands"`

	// Features maps input field names to their declarations.
	Features map[string]Feature `yaml:"features" json:"features"`

	// AuxFields is the allow-list of auxiliary status fields devices of
	// this platform may report; fields outside it are dropped.
	AuxFields []string `yaml:"aux_fields" json:"aux_fields"`

	// TogglePair names the two complementary command machine labels
	// used by toggle resolution, empty when the platform has none.
	TogglePair [2]string `yaml:"toggle_pair" json:"toggle_pair"`

	// EnergyKind selects how usage is derived for devices of this
	// platform unless the device overrides it.
	EnergyKind EnergyKind `yaml:"energy_kind" json:"energy_kind"`

	// EnergyMap is the default interpolation map for calculated energy,
	// overridable per device.
	EnergyMap EnergyMap `yaml:"energy_map" json:"energy_map"`
}

// AllowsAuxField reports whether the given auxiliary status field is on
// the platform's allow-list.
func (p *Platform) AllowsAuxField(field string) bool {
	for _, f := range p.AuxFields {
		if f == field {
			return true
		}
	}
	return false
}

// HasTogglePair reports whether the platform declares a toggle pair.
func (p *Platform) HasTogglePair() bool {
	return p.TogglePair[0] != "" && p.TogglePair[1] != ""
}

// Toggle returns the complement of the given command within the
// platform's toggle pair.
//
// If current matches neither half of the pair (including the empty
// string for a device with no prior command), the first half is
// returned as the default action.
//
// Parameters:
//   - current: Machine label of the most recent command, or ""
//
// Returns:
//   - string: Machine label of the command to dispatch
//   - error: ErrNoTogglePair if the platform declares none
func (p *Platform) Toggle(current string) (string, error) {
	if !p.HasTogglePair() {
		return "", fmt.Errorf("%w: platform %q", ErrNoTogglePair, p.ID)
	}
	switch current {
	case p.TogglePair[0]:
		return p.TogglePair[1], nil
	case p.TogglePair[1]:
		return p.TogglePair[0], nil
	default:
		return p.TogglePair[0], nil
	}
}

// ValidateInput validates and normalizes one command input field.
//
// Unknown fields are rejected. Stepped features accept numeric values
// in [0, 1] and snap them to the nearest step; non-stepped features
// pass values through unchanged.
//
// Parameters:
//   - field: Input field name (e.g. "brightness")
//   - value: Caller-supplied value
//
// Returns:
//   - any: The validated (possibly discretized) value
//   - error: ErrUnknownFeature or ErrInvalidInput
func (p *Platform) ValidateInput(field string, value any) (any, error) {
	feat, ok := p.Features[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q on platform %q", ErrUnknownFeature, field, p.ID)
	}

	if feat.Steps <= 0 {
		return value, nil
	}

	level, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("%w: field %q wants a numeric level, got %T",
			ErrInvalidInput, field, value)
	}
	if level < 0 || level > 1 {
		return nil, fmt.Errorf("%w: field %q level %v outside [0, 1]",
			ErrInvalidInput, field, level)
	}

	steps := float64(feat.Steps)
	return math.Round(level*steps) / steps, nil
}

// toFloat widens the numeric types seen in decoded inputs.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
