package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthworks/hearth-core/internal/commands"
	"github.com/hearthworks/hearth-core/internal/events"
	"github.com/hearthworks/hearth-core/internal/platform"
)

// SetStatus records one status update for the device.
//
// The auxiliary map is merged over the previous snapshot's map (new
// values win; fields outside the platform allow-list are dropped with
// a warning). An update whose (machine_status, machine_status_extra)
// matches the current head of history is dropped unless forced, so the
// history never holds two adjacent identical readings.
//
// The new snapshot is appended to the bounded history ring, queued for
// write-behind persistence, recorded as statistics, published as a
// device.status_changed event carrying the new and previous snapshots,
// and mirrored to the external message bus when one is configured.
//
// Parameters:
//   - ctx: Context passed through to event subscribers
//   - upd: The status update
//
// Returns:
//   - *DeviceStatus: The appended snapshot, or the unchanged head when
//     the no-op rule suppressed the update
//   - error: platform.ErrEnergyRange when the status falls outside the
//     energy map
func (d *Device) SetStatus(ctx context.Context, upd StatusUpdate) (*DeviceStatus, error) {
	d.mu.Lock()

	now := d.deps.Now().UTC()
	prev, _ := d.statusRing.Newest()

	if prev != nil && !upd.Force &&
		prev.MachineStatus == upd.MachineStatus &&
		prev.MachineStatusExtra == upd.MachineStatusExtra {
		d.mu.Unlock()
		d.deps.Logger.Debug("duplicate status dropped",
			"device", d.MachineLabel,
			"machine_status", upd.MachineStatus,
		)
		return prev, nil
	}

	aux, dropped := d.mergeAuxLocked(prev, upd.Aux)

	humanStatus, humanMessage := d.deriveLocked(upd)

	commandID, requestID := d.resolveCauseLocked(upd)

	usage, unit, err := d.energyLocked(upd)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	st := &DeviceStatus{
		ID:                 uuid.NewString(),
		DeviceID:           d.ID,
		CommandID:          commandID,
		RequestID:          requestID,
		MachineStatus:      upd.MachineStatus,
		MachineStatusExtra: upd.MachineStatusExtra,
		Aux:                aux,
		HumanStatus:        humanStatus,
		HumanMessage:       humanMessage,
		EnergyUsage:        usage,
		EnergyUnit:         unit,
		EnergyKind:         d.energyKind,
		ReportedBy:         upd.ReportedBy,
		CreatedAt:          now,
	}

	// Snapshots are queued for persistence at creation, so ring
	// eviction can simply forget the displaced entry.
	d.statusRing.Push(st)

	d.mu.Unlock()

	if len(dropped) > 0 {
		d.deps.Logger.Warn("aux fields outside allow-list dropped",
			"device", d.MachineLabel,
			"fields", dropped,
		)
	}

	if d.deps.Flush != nil {
		d.deps.Flush.EnqueueStatus(st.record())
	}

	d.recordStats(st)
	d.publishStatusChange(ctx, st, prev)

	return st, nil
}

// mergeAuxLocked merges an update's aux fields over the previous
// snapshot's map, enforcing the platform allow-list. Returns the merged
// map and the names of dropped fields. Caller holds d.mu.
func (d *Device) mergeAuxLocked(prev *DeviceStatus, incoming map[string]any) (map[string]any, []string) {
	if prev == nil && len(incoming) == 0 {
		return nil, nil
	}

	aux := make(map[string]any)
	if prev != nil {
		for k, v := range prev.Aux {
			aux[k] = v
		}
	}

	var dropped []string
	for k, v := range incoming {
		if d.platform.AllowsAuxField(k) {
			aux[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}

	if len(aux) == 0 {
		return nil, dropped
	}
	return aux, dropped
}

// deriveLocked produces the human status and message, honoring explicit
// overrides in the update. Caller holds d.mu.
func (d *Device) deriveLocked(upd StatusUpdate) (string, string) {
	status, message := "", ""
	if d.statusDeriver != nil {
		status, message = d.statusDeriver(upd.MachineStatus, upd.MachineStatusExtra)
	} else {
		status, message = deriveHumanStatus(upd.MachineStatus, upd.MachineStatusExtra)
	}
	if upd.HumanStatus != "" {
		status = upd.HumanStatus
	}
	if upd.HumanMessage != "" {
		message = upd.HumanMessage
	}
	return status, message
}

// deriveHumanStatus is the generic deriver used when the platform
// installs no specific one.
func deriveHumanStatus(machineStatus float64, extra string) (string, string) {
	switch {
	case machineStatus <= 0:
		return "Off", ""
	case machineStatus >= 1:
		if extra != "" {
			return "On", fmt.Sprintf("On (%s)", extra)
		}
		return "On", ""
	default:
		pct := int(machineStatus * 100)
		return "On", fmt.Sprintf("On at %d%%", pct)
	}
}

// resolveCauseLocked identifies the command that caused a status
// update: an explicit reference wins, then a correlated request id,
// then the platform's inference heuristic. Caller holds d.mu.
func (d *Device) resolveCauseLocked(upd StatusUpdate) (commandID, requestID string) {
	if upd.Command != nil {
		return upd.Command.ID, upd.RequestID
	}
	if upd.RequestID != "" {
		if dc, ok := d.byRequestID[upd.RequestID]; ok {
			return dc.Command.ID, upd.RequestID
		}
		return "", upd.RequestID
	}
	if d.commandInferer != nil {
		if cmd := d.commandInferer(upd); cmd != nil {
			return cmd.ID, ""
		}
		return "", ""
	}
	if cmd := d.inferFromTogglePairLocked(upd); cmd != nil {
		return cmd.ID, ""
	}
	return "", ""
}

// inferFromTogglePairLocked guesses the causing command from the toggle
// pair: an active status maps to the pair's first half, inactive to the
// second. Caller holds d.mu.
func (d *Device) inferFromTogglePairLocked(upd StatusUpdate) *commands.Command {
	if !d.platform.HasTogglePair() {
		return nil
	}
	label := d.platform.TogglePair[1]
	if upd.MachineStatus > 0 {
		label = d.platform.TogglePair[0]
	}
	cmd, err := d.deps.Catalog.Get(label)
	if err != nil {
		return nil
	}
	return cmd
}

// energyLocked computes the snapshot's energy usage. Caller holds d.mu.
func (d *Device) energyLocked(upd StatusUpdate) (float64, string, error) {
	switch d.energyKind {
	case platform.EnergyCalculated:
		if len(d.energyMap) < 2 {
			return 0, "", nil
		}
		rate, err := d.energyMap.Rate(upd.MachineStatus)
		if err != nil {
			return 0, "", fmt.Errorf("device %q: %w", d.MachineLabel, err)
		}
		return rate, energyUnitWatts, nil
	case platform.EnergySensor:
		return upd.EnergyUsage, energyUnitWatts, nil
	default:
		return 0, "", nil
	}
}

// recordStats emits the fire-and-forget statistics for a new snapshot.
func (d *Device) recordStats(st *DeviceStatus) {
	if d.deps.Stats == nil {
		return
	}
	if st.EnergyKind != platform.EnergyNone {
		d.deps.Stats.Datapoint("devices."+d.MachineLabel+".energy", st.EnergyUsage)
	}
	d.deps.Stats.Average("devices."+d.MachineLabel+".status", st.MachineStatus, statusAverageBucket)
}

// publishStatusChange emits the status-changed event and mirrors the
// snapshot to the external message bus.
func (d *Device) publishStatusChange(ctx context.Context, st, prev *DeviceStatus) {
	if d.deps.Bus != nil {
		d.deps.Bus.Publish(ctx, events.Event{
			Kind:     events.KindDeviceStatusChanged,
			DeviceID: d.ID,
			Payload:  &StatusChange{New: st, Previous: prev},
		})
	}

	if d.deps.Publisher == nil {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		d.deps.Logger.Error("marshaling status snapshot", "device", d.MachineLabel, "error", err)
		return
	}
	if err := d.deps.Publisher.PublishStatus(d.MachineLabel, payload); err != nil {
		d.deps.Logger.Warn("publishing status snapshot", "device", d.MachineLabel, "error", err)
	}
}
