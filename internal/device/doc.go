// Package device implements the device command dispatch and status
// lifecycle engine, the core of Hearth.
//
// A Device composes four concerns for one physical or virtual endpoint:
//
//   - the command lifecycle: every request becomes a DeviceCommand
//     moving through new → broadcast → [delayed] → sent → received →
//     pending* → {finished | failed | canceled | delay_expired}, driven
//     by the engine and by external handlers through the mutators;
//   - delayed dispatch: a request carrying a scheduling window arms a
//     one-shot timer and expires silently if the window closes first;
//   - de-duplication: at most one active request per persistent request
//     key, newer requests superseding (canceling) older ones;
//   - the status engine: bounded newest-first history with aux-map
//     merging, duplicate suppression, derived human status, and energy
//     interpolation from the platform's breakpoint map.
//
// The Registry owns all Devices, indexes them by id and fuzzy-matchable
// label, constructs them from persisted records, and publishes
// created/updated/deleted events. Durability is write-behind through
// the Flusher: best-effort batched upserts that never block the
// lifecycle. On restart, Recover replays persisted delayed commands and
// expires those whose window closed while the gateway was down.
//
// Each Device serializes its state behind one mutex; timers and
// external mutator calls re-enter through the same lock, so per-device
// ordering matches a single event loop. No ordering holds across
// devices.
package device
