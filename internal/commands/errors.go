package commands

import "errors"

// Domain-specific errors for command lookup.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCommandNotFound is returned when no command matches an exact
	// id or label lookup.
	ErrCommandNotFound = errors.New("commands: command not found")

	// ErrEmptyCatalog is returned when resolving against a catalog with
	// no commands loaded.
	ErrEmptyCatalog = errors.New("commands: catalog is empty")
)
