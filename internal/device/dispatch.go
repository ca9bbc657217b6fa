package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearthworks/hearth-core/internal/events"
)

// toggleCommand is the pseudo-command resolved through the platform's
// toggle pair.
const toggleCommand = "toggle"

// engineOrigin tags history entries written by the engine itself.
const engineOrigin = "engine"

// CommandRequest is the input to Device.Command.
type CommandRequest struct {
	// Command is a command id or label, or the "toggle" pseudo-command.
	Command string

	// Pin authorizes the request on pin-protected devices. A validated
	// pin is remembered for the device's pin timeout.
	Pin string

	// RequestID sets the request id; one is allocated when empty.
	RequestID string

	// Scheduling window. Delay is relative shorthand for NotBefore.
	// If either is set, the dispatch is delayed and bounded by NotAfter
	// (or NotBefore + MaxDelay; a default applies with a warning when
	// both are omitted).
	NotBefore time.Time
	Delay     time.Duration
	MaxDelay  time.Duration
	NotAfter  time.Time

	// Inputs carries command parameters, validated against the
	// platform's feature declarations.
	Inputs map[string]any

	// RequestedBy identifies the requester.
	RequestedBy string

	// PersistentRequestID de-duplicates: issuing a new request with the
	// same key cancels the previous non-terminal one.
	PersistentRequestID string
}

// BroadcastPayload accompanies command.broadcast events.
type BroadcastPayload struct {
	Command *DeviceCommand
}

// CommandChange accompanies command.status_changed events.
type CommandChange struct {
	Command  *DeviceCommand
	Previous CommandStatus
	Next     CommandStatus
}

// Command validates, resolves, and dispatches one command request.
//
// Validation failures (disabled device, pin, unknown or disallowed
// command, malformed window) return an error and create nothing. Once
// a DeviceCommand exists no error escapes: all later failure is
// expressed as a terminal lifecycle state.
//
// Immediate requests are broadcast before Command returns; delayed
// requests arm a one-shot timer and return in state "delayed".
//
// Parameters:
//   - ctx: Context passed through to event subscribers
//   - req: The command request
//
// Returns:
//   - *DeviceCommand: The registered request
//   - error: Validation or resolution failure (nothing was created)
func (d *Device) Command(ctx context.Context, req CommandRequest) (*DeviceCommand, error) {
	d.mu.Lock()

	now := d.deps.Now().UTC()

	if d.enabled != Enabled {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is %s", ErrDeviceDisabled, d.MachineLabel, d.enabled)
	}

	if err := d.checkPinLocked(req.Pin, now); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	// Resolve, substituting the toggle pseudo-command first.
	name := req.Command
	if strings.EqualFold(strings.TrimSpace(name), toggleCommand) {
		target, err := d.platform.Toggle(d.toggleCurrentLocked())
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		name = target
	}
	cmd, err := d.deps.Catalog.Resolve(name)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	// A misspelled request can fuzzy-resolve to a catalog row named
	// "toggle". That row is still the pseudo-command: substitute the
	// pair's complement rather than broadcasting it literally.
	if strings.EqualFold(cmd.MachineLabel, toggleCommand) {
		target, terr := d.platform.Toggle(d.toggleCurrentLocked())
		if terr != nil {
			d.mu.Unlock()
			return nil, terr
		}
		if cmd, err = d.deps.Catalog.Resolve(target); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}

	allowed := d.deps.Platforms.AllowedCommands(d.PlatformID)
	if _, ok := allowed[cmd.MachineLabel]; !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q on platform %q", ErrCommandNotAllowed, cmd.MachineLabel, d.PlatformID)
	}

	inputs, err := d.validateInputsLocked(cmd.ID, req.Inputs)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	notBefore, notAfter, delayed, warn, err := resolveWindow(req, now, d.deps.DefaultMaxDelay)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	// De-duplication: at most one active request per persistent key.
	var superseded *DeviceCommand
	if req.PersistentRequestID != "" {
		if existing, ok := d.byPersistent[req.PersistentRequestID]; ok && !existing.Status().Terminal() {
			superseded = existing
		}
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	d.mu.Unlock()

	if warn {
		d.deps.Logger.Warn("delayed command has no max_delay or not_after, applying default",
			"device", d.MachineLabel,
			"request_id", requestID,
			"default_max_delay", d.deps.DefaultMaxDelay,
		)
	}

	// Cancel the superseded request before its successor exists, so its
	// closing history entry never postdates the replacement's creation.
	if superseded != nil {
		superseded.Cancel(fmt.Sprintf("superseded by request %s", requestID), engineOrigin)
	}

	dc := newDeviceCommand(requestID, d.ID, cmd, d.deps.Now)
	dc.PersistentRequestID = req.PersistentRequestID
	dc.Inputs = inputs
	dc.RequestedBy = req.RequestedBy
	dc.NotBefore = notBefore
	dc.NotAfter = notAfter
	dc.onChange = d.onCommandChange

	d.mu.Lock()
	if evicted, ok := d.commandRing.Push(dc); ok {
		d.forgetEvictedLocked(evicted)
	}
	d.byRequestID[requestID] = dc
	if req.PersistentRequestID != "" {
		d.byPersistent[req.PersistentRequestID] = dc
	}
	d.mu.Unlock()

	if delayed {
		d.scheduleDispatch(dc, now)
	} else {
		d.broadcast(ctx, dc)
	}

	return dc, nil
}

// forgetEvictedLocked drops the index entries of a command displaced
// from the ring, flushing it first if it never reached the store.
// Caller holds d.mu.
func (d *Device) forgetEvictedLocked(evicted *DeviceCommand) {
	delete(d.byRequestID, evicted.RequestID)
	if evicted.PersistentRequestID != "" && d.byPersistent[evicted.PersistentRequestID] == evicted {
		delete(d.byPersistent, evicted.PersistentRequestID)
	}
	if !evicted.Persisted() && d.deps.Flush != nil {
		d.deps.Flush.EnqueueCommand(evicted.Record())
	}
}

// checkPinLocked enforces pin protection. A validated pin is remembered
// for the device's pin timeout, so follow-up commands inside the window
// skip the check. Caller holds d.mu.
func (d *Device) checkPinLocked(pin string, now time.Time) error {
	if !d.pinRequired {
		return nil
	}
	if d.pinTimeout > 0 && !d.pinValidatedAt.IsZero() && now.Sub(d.pinValidatedAt) <= d.pinTimeout {
		return nil
	}
	if pin == "" {
		return fmt.Errorf("%w: device %q", ErrPinRequired, d.MachineLabel)
	}
	if pin != d.pinCode {
		return fmt.Errorf("%w: device %q", ErrPinInvalid, d.MachineLabel)
	}
	d.pinValidatedAt = now
	return nil
}

// validateInputsLocked validates every input field against the
// platform's feature declarations. Caller holds d.mu.
func (d *Device) validateInputsLocked(commandID string, raw map[string]any) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	validated := make(map[string]any, len(raw))
	for field, value := range raw {
		v, err := d.deps.Platforms.ValidateInput(d.PlatformID, commandID, field, value)
		if err != nil {
			return nil, err
		}
		validated[field] = v
	}
	return validated, nil
}

// resolveWindow computes the dispatch window for a request.
//
// Returns the window bounds, whether dispatch is delayed, and whether
// the default max delay had to be applied (callers log a warning).
func resolveWindow(req CommandRequest, now time.Time, defaultMax time.Duration) (notBefore, notAfter time.Time, delayed, warn bool, err error) {
	if req.Delay <= 0 && req.NotBefore.IsZero() {
		return time.Time{}, time.Time{}, false, false, nil
	}

	delayed = true
	notBefore = req.NotBefore
	if notBefore.IsZero() {
		notBefore = now.Add(req.Delay)
	}

	switch {
	case !req.NotAfter.IsZero():
		notAfter = req.NotAfter
	case req.MaxDelay > 0:
		notAfter = notBefore.Add(req.MaxDelay)
	default:
		warn = true
		notAfter = notBefore.Add(defaultMax)
	}

	if notAfter.Before(notBefore) {
		return time.Time{}, time.Time{}, false, false,
			fmt.Errorf("%w: not_after %s precedes not_before %s",
				ErrMalformedWindow, notAfter.Format(time.RFC3339), notBefore.Format(time.RFC3339))
	}
	if notBefore.Before(now) {
		return time.Time{}, time.Time{}, false, false,
			fmt.Errorf("%w: not_before %s is in the past",
				ErrMalformedWindow, notBefore.Format(time.RFC3339))
	}

	return notBefore, notAfter, true, warn, nil
}

// scheduleDispatch arms the one-shot delayed-dispatch timer.
func (d *Device) scheduleDispatch(dc *DeviceCommand, now time.Time) {
	dc.SetDelayed(fmt.Sprintf("dispatch scheduled for %s", dc.NotBefore.Format(time.RFC3339)), engineOrigin)
	dc.armTimer(dc.NotBefore.Sub(now), func() {
		d.fireDelayed(context.Background(), dc)
	})
}

// fireDelayed runs when a delayed command's timer fires. A window that
// closed while waiting expires the request silently; otherwise it
// broadcasts normally.
func (d *Device) fireDelayed(ctx context.Context, dc *DeviceCommand) {
	if dc.Status().Terminal() {
		return
	}
	now := d.deps.Now().UTC()
	if !dc.NotAfter.IsZero() && now.After(dc.NotAfter) {
		d.deps.Logger.Warn("delayed command expired before dispatch",
			"device", d.MachineLabel,
			"request_id", dc.RequestID,
			"not_after", dc.NotAfter,
		)
		dc.expireDelay(engineOrigin)
		return
	}
	d.broadcast(ctx, dc)
}

// broadcast publishes the command to subscribers; the first
// acknowledgement advances the request to received.
func (d *Device) broadcast(ctx context.Context, dc *DeviceCommand) {
	if !dc.SetBroadcast(engineOrigin) {
		return
	}
	if d.deps.Bus == nil {
		return
	}

	results := d.deps.Bus.Publish(ctx, events.Event{
		Kind:     events.KindCommandBroadcast,
		DeviceID: d.ID,
		Payload:  &BroadcastPayload{Command: dc},
	})
	for subscriberID, res := range results {
		if res.Ack {
			dc.SetReceived("acknowledged", subscriberID)
			break
		}
	}
}

// onCommandChange runs after every accepted lifecycle transition,
// outside both the command's and the device's locks.
func (d *Device) onCommandChange(dc *DeviceCommand, prev, next CommandStatus) {
	d.deps.Logger.Debug("command status changed",
		"device", d.MachineLabel,
		"request_id", dc.RequestID,
		"from", string(prev),
		"to", string(next),
	)

	if d.deps.Bus != nil {
		d.deps.Bus.Publish(context.Background(), events.Event{
			Kind:     events.KindCommandStatusChanged,
			DeviceID: d.ID,
			Payload:  &CommandChange{Command: dc, Previous: prev, Next: next},
		})
	}

	if next.Terminal() {
		// A terminal request no longer occupies its persistent key;
		// dropping the index entry keeps memory bounded by the ring.
		if dc.PersistentRequestID != "" {
			d.mu.Lock()
			if d.byPersistent[dc.PersistentRequestID] == dc {
				delete(d.byPersistent, dc.PersistentRequestID)
			}
			d.mu.Unlock()
		}
		if d.deps.Flush != nil {
			d.deps.Flush.EnqueueCommand(dc.Record())
		}
		if d.deps.Stats != nil {
			d.deps.Stats.Datapoint("devices."+d.MachineLabel+".commands."+string(next), 1)
		}
	}
}

// toggleCurrentLocked determines the current half of the toggle pair:
// the most recent command if any, otherwise inferred from the newest
// status. Caller holds d.mu.
func (d *Device) toggleCurrentLocked() string {
	if dc, ok := d.commandRing.Newest(); ok {
		return dc.Command.MachineLabel
	}
	if st, ok := d.statusRing.Newest(); ok && d.platform.HasTogglePair() {
		if st.MachineStatus > 0 {
			return d.platform.TogglePair[0]
		}
		return d.platform.TogglePair[1]
	}
	return ""
}
