package device

import "errors"

// Domain-specific errors for the device engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device lookup misses.
	ErrDeviceNotFound = errors.New("device: device not found")

	// ErrDeviceExists is returned when creating a device whose id or
	// machine label is already registered.
	ErrDeviceExists = errors.New("device: device already exists")

	// ErrDeviceDisabled is returned by Command when the device's enabled
	// state forbids commands.
	ErrDeviceDisabled = errors.New("device: device is disabled")

	// ErrPinRequired is returned when the device requires a pin and the
	// request carries none.
	ErrPinRequired = errors.New("device: pin required")

	// ErrPinInvalid is returned when the supplied pin does not match.
	ErrPinInvalid = errors.New("device: pin incorrect")

	// ErrCommandNotAllowed is returned when the resolved command is not
	// in the device platform's allowed set.
	ErrCommandNotAllowed = errors.New("device: command not allowed for platform")

	// ErrMalformedWindow is returned for an invalid scheduling window
	// (not_after before not_before, or not_before in the past).
	ErrMalformedWindow = errors.New("device: malformed scheduling window")

	// ErrRequestNotFound is returned when a request id lookup misses.
	ErrRequestNotFound = errors.New("device: request not found")

	// ErrInvalidDevice is returned when validation of a device record fails.
	ErrInvalidDevice = errors.New("device: invalid device")
)
