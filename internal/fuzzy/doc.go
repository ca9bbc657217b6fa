// Package fuzzy provides approximate string matching for command and
// device label resolution.
//
// Lookups by human-entered labels ("turn the porch lite on") tolerate
// typos: candidates are scored by longest-common-subsequence similarity
// and accepted when they reach a configurable limiter. A failed search
// returns a *MissError carrying the best candidate and a handful of
// alternatives so callers can produce useful suggestions.
package fuzzy
