package device

import (
	"context"
	"fmt"
)

// Recover replays persisted non-terminal commands after a restart.
//
// Delayed commands whose window is still open are re-armed (or
// broadcast immediately when not_before has already passed); those
// whose window closed while the gateway was down terminalize as
// delay_expired without broadcasting. Commands that were interrupted
// mid-flight (broadcast, sent, received, pending) cannot be resumed -
// the subscriber-side state is gone - so they terminalize as failed.
//
// Parameters:
//   - ctx: Context for the store query and replayed broadcasts
//
// Returns:
//   - error: If the store query fails
func (r *Registry) Recover(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	recs, err := r.store.PendingCommands(ctx)
	if err != nil {
		return fmt.Errorf("loading pending commands: %w", err)
	}

	recovered, expired, failed := 0, 0, 0
	for _, rec := range recs {
		if rec.Status.Terminal() {
			continue
		}
		dev, err := r.Get(rec.DeviceID)
		if err != nil {
			r.deps.Logger.Warn("pending command references unknown device",
				"request_id", rec.RequestID,
				"device_id", rec.DeviceID,
			)
			continue
		}
		switch dev.recoverCommand(ctx, rec) {
		case StatusDelayExpired:
			expired++
		case StatusFailed:
			failed++
		default:
			recovered++
		}
	}

	r.deps.Logger.Info("command recovery complete",
		"recovered", recovered,
		"expired", expired,
		"failed", failed,
	)
	return nil
}

// recoverCommand rebuilds one persisted request on the device and
// decides its fate. Returns the resulting lifecycle state.
func (d *Device) recoverCommand(ctx context.Context, rec CommandRecord) CommandStatus {
	cmd, err := d.deps.Catalog.Get(rec.CommandID)
	if err != nil {
		d.deps.Logger.Warn("pending command references unknown command",
			"request_id", rec.RequestID,
			"command_id", rec.CommandID,
		)
		if d.deps.Flush != nil {
			rec.Status = StatusFailed
			d.deps.Flush.EnqueueCommand(rec)
		}
		return StatusFailed
	}

	dc := &DeviceCommand{
		RequestID:           rec.RequestID,
		PersistentRequestID: rec.PersistentRequestID,
		DeviceID:            rec.DeviceID,
		Command:             cmd,
		Inputs:              rec.Inputs,
		RequestedBy:         rec.RequestedBy,
		NotBefore:           rec.NotBefore,
		NotAfter:            rec.NotAfter,
		CreatedAt:           rec.CreatedAt,
		status:              rec.Status,
		broadcastAt:         rec.BroadcastAt,
		sentAt:              rec.SentAt,
		receivedAt:          rec.ReceivedAt,
		pendingAt:           rec.PendingAt,
		finishedAt:          rec.FinishedAt,
		history:             append([]HistoryEntry(nil), rec.History...),
		persisted:           true,
		now:                 d.deps.Now,
	}
	dc.onChange = d.onCommandChange

	d.mu.Lock()
	if evicted, ok := d.commandRing.Push(dc); ok {
		d.forgetEvictedLocked(evicted)
	}
	d.byRequestID[dc.RequestID] = dc
	if dc.PersistentRequestID != "" {
		d.byPersistent[dc.PersistentRequestID] = dc
	}
	d.mu.Unlock()

	now := d.deps.Now().UTC()

	if rec.Status != StatusDelayed {
		dc.SetFailed("interrupted by gateway restart", engineOrigin)
		return StatusFailed
	}

	if !dc.NotAfter.IsZero() && now.After(dc.NotAfter) {
		dc.expireDelay(engineOrigin)
		return StatusDelayExpired
	}
	if now.Before(dc.NotBefore) {
		dc.armTimer(dc.NotBefore.Sub(now), func() {
			d.fireDelayed(context.Background(), dc)
		})
		return StatusDelayed
	}

	// Window still open but not_before already passed: dispatch now.
	d.broadcast(ctx, dc)
	return dc.Status()
}
