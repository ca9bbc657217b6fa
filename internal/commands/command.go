package commands

import (
	"strings"
	"time"
)

// Command represents one known device command (e.g. "on", "dim").
//
// Commands are immutable once loaded into a Catalog; a definition change
// replaces the instance on the next load.
type Command struct {
	// ID is the stable unique identifier.
	ID string

	// MachineLabel is the canonical machine-readable name (e.g. "on").
	MachineLabel string

	// Label is the human-readable name (e.g. "Turn On").
	Label string

	// Description explains what the command does.
	Description string

	// InputTypeID references the expected input type, empty when the
	// command takes no input.
	InputTypeID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SearchKeys returns the lookup keys fuzzy resolution scans for this
// command, in priority order: id, machine label, label.
func (c *Command) SearchKeys() []string {
	keys := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	for _, k := range []string{c.ID, c.MachineLabel, c.Label} {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
