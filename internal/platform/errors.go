package platform

import "errors"

// Domain-specific errors for the capability table.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPlatformNotFound is returned when a platform id is unknown.
	ErrPlatformNotFound = errors.New("platform: platform not found")

	// ErrUnknownFeature is returned by ValidateInput for a field the
	// platform does not declare.
	ErrUnknownFeature = errors.New("platform: unknown feature field")

	// ErrInvalidInput is returned by ValidateInput for a value outside
	// the feature's accepted range or of the wrong type.
	ErrInvalidInput = errors.New("platform: invalid input value")

	// ErrNoTogglePair is returned when toggle resolution is requested
	// for a platform without a declared toggle pair.
	ErrNoTogglePair = errors.New("platform: no toggle pair declared")

	// ErrEnergyRange is returned when a status value falls outside every
	// energy map bracket.
	ErrEnergyRange = errors.New("platform: status outside energy map range")
)
