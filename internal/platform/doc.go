// Package platform implements the device capability table.
//
// A Platform declares what devices of its kind can do: the allowed
// command set, input features with discretized steps, an optional
// toggle pair, and how energy usage is derived (none, calculated from
// an energy map, or sensor-reported). Devices compose behavior from
// their platform's declarations instead of inheriting from type
// hierarchies.
//
// The Registry is loaded once at startup and read-only afterwards.
package platform
