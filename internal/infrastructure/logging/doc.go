// Package logging provides structured logging for Hearth Core.
//
// It wraps log/slog with configuration-driven level filtering, output
// format selection (JSON or text), and default service attributes.
//
// Components that need to log should not depend on this package directly;
// instead they declare a small local Logger interface
// (Debug/Info/Warn/Error) which *logging.Logger satisfies. This keeps
// leaf packages free of infrastructure imports and trivially testable.
//
// Usage:
//
//	log := logging.Default()          // before config is loaded
//	log = logging.New(cfg.Logging, v) // once config is available
//	log.Info("device registered", "id", dev.ID)
package logging
