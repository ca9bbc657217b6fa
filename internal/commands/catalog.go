package commands

import (
	"fmt"
	"strings"

	"github.com/hearthworks/hearth-core/internal/fuzzy"
)

// Catalog is the immutable-after-load lookup of known commands.
//
// Commands are indexed by id and machine label for exact lookup, and by
// every search key (id, machine label, label) for fuzzy resolution. The
// key list preserves insertion order so equal fuzzy scores resolve to
// the first-loaded command.
//
// A Catalog is never mutated after construction; reloading builds a new
// instance. This makes it safe for unsynchronized concurrent reads.
type Catalog struct {
	byID           map[string]*Command
	byMachineLabel map[string]*Command
	byLabel        map[string]*Command
	keyToCommand   map[string]*Command
	matcher        *fuzzy.Matcher
	count          int
}

// NewCatalog builds a catalog from the given commands.
//
// Later duplicates of an id or machine label replace earlier entries.
// The fuzzy limiter follows fuzzy.ClampLimiter semantics (0 selects the
// default).
//
// Parameters:
//   - cmds: Commands in load order
//   - limiter: Minimum fuzzy match score, or 0 for the default
func NewCatalog(cmds []*Command, limiter float64) *Catalog {
	cat := &Catalog{
		byID:           make(map[string]*Command, len(cmds)),
		byMachineLabel: make(map[string]*Command, len(cmds)),
		byLabel:        make(map[string]*Command, len(cmds)),
		keyToCommand:   make(map[string]*Command),
		count:          len(cmds),
	}

	var keys []string
	for _, cmd := range cmds {
		cat.byID[cmd.ID] = cmd
		cat.byMachineLabel[strings.ToLower(cmd.MachineLabel)] = cmd
		cat.byLabel[strings.ToLower(cmd.Label)] = cmd
		for _, key := range cmd.SearchKeys() {
			if _, dup := cat.keyToCommand[key]; dup {
				continue
			}
			cat.keyToCommand[key] = cmd
			keys = append(keys, key)
		}
	}

	cat.matcher = fuzzy.NewMatcher(keys, limiter)
	return cat
}

// Len returns the number of commands loaded.
func (c *Catalog) Len() int { return c.count }

// Get looks up a command by exact id, machine label, or label.
//
// Label matching is case-insensitive. No fuzzy fallback is attempted;
// use Resolve for that.
//
// Parameters:
//   - idOrLabel: Command id, machine label, or human label
//
// Returns:
//   - *Command: The matching command
//   - error: ErrCommandNotFound if nothing matches exactly
func (c *Catalog) Get(idOrLabel string) (*Command, error) {
	if cmd, ok := c.byID[idOrLabel]; ok {
		return cmd, nil
	}
	lowered := strings.ToLower(strings.TrimSpace(idOrLabel))
	if cmd, ok := c.byMachineLabel[lowered]; ok {
		return cmd, nil
	}
	if cmd, ok := c.byLabel[lowered]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, idOrLabel)
}

// Resolve looks up a command, falling back to fuzzy matching on miss.
//
// Exact lookup (Get) always wins. Otherwise every search key is scored
// and the best candidate at or above the limiter is returned; a fuzzy
// miss surfaces the underlying *fuzzy.MissError (wrapped) so callers
// can offer "did you mean" suggestions.
//
// Parameters:
//   - search: Command id or label, possibly misspelled
//
// Returns:
//   - *Command: The resolved command
//   - error: ErrEmptyCatalog, or a wrapped *fuzzy.MissError on miss
func (c *Catalog) Resolve(search string) (*Command, error) {
	if c.count == 0 {
		return nil, ErrEmptyCatalog
	}

	if cmd, err := c.Get(search); err == nil {
		return cmd, nil
	}

	key, _, err := c.matcher.Search(strings.ToLower(strings.TrimSpace(search)))
	if err != nil {
		return nil, fmt.Errorf("resolving command %q: %w", search, err)
	}
	return c.keyToCommand[key], nil
}

// MachineLabels returns the machine labels of all loaded commands in
// load order. Used for building per-device allowed-command feedback.
func (c *Catalog) MachineLabels() []string {
	labels := make([]string, 0, c.count)
	seen := make(map[*Command]struct{}, c.count)
	for _, key := range c.matcher.Keys() {
		cmd := c.keyToCommand[key]
		if _, dup := seen[cmd]; dup {
			continue
		}
		seen[cmd] = struct{}{}
		labels = append(labels, cmd.MachineLabel)
	}
	return labels
}
