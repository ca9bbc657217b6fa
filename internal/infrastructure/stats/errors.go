package stats

import "errors"

// Domain-specific errors for the statistics collector.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned by Connect when statistics are disabled in config.
	ErrDisabled = errors.New("stats: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("stats: connection failed")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("stats: client not connected")
)
