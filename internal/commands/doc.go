// Package commands implements the command catalog: the system-wide set
// of known device commands ("on", "off", "dim", ...) with exact and
// fuzzy lookup.
//
// The Catalog is immutable after load; it indexes commands by id,
// machine label, and human label, and falls back to fuzzy matching
// (internal/fuzzy) when an exact lookup misses. A fuzzy miss carries
// the best candidate and alternatives for suggestion feedback.
//
// Persistence is SQLite via the commands table; the Repository loads
// all rows and builds a fresh Catalog.
package commands
