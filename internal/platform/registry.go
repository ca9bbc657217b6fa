package platform

import "fmt"

// Registry holds all known device platforms.
//
// Platforms are loaded once at startup; the registry is read-only
// afterwards and safe for unsynchronized concurrent reads.
type Registry struct {
	byID  map[string]*Platform
	order []string
}

// NewRegistry builds a registry from the given platforms.
//
// Later duplicates of an id replace earlier entries.
func NewRegistry(platforms []*Platform) *Registry {
	r := &Registry{byID: make(map[string]*Platform, len(platforms))}
	for _, p := range platforms {
		if _, dup := r.byID[p.ID]; !dup {
			r.order = append(r.order, p.ID)
		}
		r.byID[p.ID] = p
	}
	return r
}

// Get returns one platform by id.
//
// Returns:
//   - *Platform: The platform
//   - error: ErrPlatformNotFound if the id is unknown
func (r *Registry) Get(platformID string) (*Platform, error) {
	p, ok := r.byID[platformID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlatformNotFound, platformID)
	}
	return p, nil
}

// AllowedCommands returns the set of command machine labels a platform
// accepts.
//
// Parameters:
//   - platformID: The platform id
//
// Returns:
//   - map[string]struct{}: Allowed command labels (empty set for an
//     unknown platform)
func (r *Registry) AllowedCommands(platformID string) map[string]struct{} {
	allowed := make(map[string]struct{})
	p, ok := r.byID[platformID]
	if !ok {
		return allowed
	}
	for _, label := range p.AllowedCommands {
		allowed[label] = struct{}{}
	}
	return allowed
}

// ValidateInput validates one command input field against a platform's
// feature declarations.
//
// Parameters:
//   - platformID: The platform id
//   - commandID: The command the input accompanies (reserved for
//     per-command restrictions)
//   - field: Input field name
//   - value: Caller-supplied value
//
// Returns:
//   - any: The validated value
//   - error: ErrPlatformNotFound, ErrUnknownFeature, or ErrInvalidInput
func (r *Registry) ValidateInput(platformID, commandID, field string, value any) (any, error) {
	p, err := r.Get(platformID)
	if err != nil {
		return nil, err
	}
	validated, err := p.ValidateInput(field, value)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", commandID, err)
	}
	return validated, nil
}

// IDs returns all platform ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Defaults returns the built-in platform set.
//
// These cover the common device categories the gateway ships with;
// deployments extend or replace them through configuration.
func Defaults() []*Platform {
	return []*Platform{
		{
			ID:              "light",
			Label:           "Light",
			AllowedCommands: []string{"on", "off", "toggle"},
			Features:        map[string]Feature{"power": {}},
			AuxFields:       []string{"rssi", "link_quality"},
			TogglePair:      [2]string{"on", "off"},
			EnergyKind:      EnergyCalculated,
			EnergyMap:       EnergyMap{{Percent: 0, Rate: 0}, {Percent: 1, Rate: 60}},
		},
		{
			ID:              "dimmer",
			Label:           "Dimmable Light",
			AllowedCommands: []string{"on", "off", "toggle", "dim", "brighten"},
			Features: map[string]Feature{
				"power":      {},
				"brightness": {Steps: 100},
			},
			AuxFields:  []string{"rssi", "link_quality", "color_temp"},
			TogglePair: [2]string{"on", "off"},
			EnergyKind: EnergyCalculated,
			EnergyMap:  EnergyMap{{Percent: 0, Rate: 0}, {Percent: 1, Rate: 60}},
		},
		{
			ID:              "relay",
			Label:           "Relay Switch",
			AllowedCommands: []string{"on", "off", "toggle"},
			Features:        map[string]Feature{"power": {}},
			AuxFields:       []string{"rssi"},
			TogglePair:      [2]string{"on", "off"},
			EnergyKind:      EnergyNone,
		},
		{
			ID:              "cover",
			Label:           "Cover",
			AllowedCommands: []string{"open", "close", "stop", "toggle"},
			Features: map[string]Feature{
				"position": {Steps: 100},
			},
			AuxFields:  []string{"rssi", "obstruction"},
			TogglePair: [2]string{"open", "close"},
			EnergyKind: EnergyNone,
		},
		{
			ID:              "sensor",
			Label:           "Sensor",
			AllowedCommands: nil,
			Features:        map[string]Feature{},
			AuxFields:       []string{"rssi", "battery", "temperature", "humidity"},
			EnergyKind:      EnergySensor,
		},
	}
}
