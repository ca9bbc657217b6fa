package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthworks/hearth-core/internal/infrastructure/database"
	"github.com/hearthworks/hearth-core/internal/platform"
)

// Repository provides SQLite-backed persistence for devices, command
// records, and status history. It satisfies both Store (registry reads,
// device CRUD) and FlushStore (write-behind bulk upserts).
type Repository struct {
	db *database.DB
}

// NewRepository creates a device repository backed by the given database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// AllDevices returns every persisted device record in insertion order.
func (r *Repository) AllDevices(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, label, machine_label, platform_id, description,
		       pin_required, pin_code, pin_timeout, enabled_status,
		       energy_type, energy_map, created_at, updated_at
		FROM devices
		ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var recs []Record
	for rows.Next() {
		var rec Record
		var pinRequired, pinTimeout int
		var energyMapJSON string
		var createdAt, updatedAt string

		err := rows.Scan(&rec.ID, &rec.Label, &rec.MachineLabel, &rec.PlatformID,
			&rec.Description, &pinRequired, &rec.PinCode, &pinTimeout,
			&rec.Enabled, &rec.EnergyKind, &energyMapJSON, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}

		rec.PinRequired = pinRequired != 0
		rec.PinTimeout = time.Duration(pinTimeout) * time.Second
		if energyMapJSON != "" && energyMapJSON != "[]" {
			if err := json.Unmarshal([]byte(energyMapJSON), &rec.EnergyMap); err != nil {
				return nil, fmt.Errorf("parsing energy map for device %q: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)

		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return recs, nil
}

// SaveDevice inserts or replaces a device record.
func (r *Repository) SaveDevice(ctx context.Context, rec Record) error {
	energyMapJSON, err := json.Marshal(rec.EnergyMap)
	if err != nil {
		return fmt.Errorf("encoding energy map: %w", err)
	}

	pinRequired := 0
	if rec.PinRequired {
		pinRequired = 1
	}
	enabled := rec.Enabled
	if enabled == "" {
		enabled = Enabled
	}
	energyKind := rec.EnergyKind
	if energyKind == "" {
		energyKind = platform.EnergyNone
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, label, machine_label, platform_id, description,
		                     pin_required, pin_code, pin_timeout, enabled_status,
		                     energy_type, energy_map, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			description = excluded.description,
			pin_required = excluded.pin_required,
			pin_code = excluded.pin_code,
			pin_timeout = excluded.pin_timeout,
			enabled_status = excluded.enabled_status,
			energy_type = excluded.energy_type,
			energy_map = excluded.energy_map,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Label, rec.MachineLabel, rec.PlatformID, rec.Description,
		pinRequired, rec.PinCode, int(rec.PinTimeout.Seconds()), string(enabled),
		string(energyKind), string(energyMapJSON),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving device %q: %w", rec.ID, err)
	}
	return nil
}

// DeleteDevice soft-deletes a device by marking its enabled status.
func (r *Repository) DeleteDevice(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET enabled_status = ?, updated_at = ? WHERE id = ?`,
		string(Deleted), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("deleting device %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	return nil
}

// SaveCommands bulk-upserts command records in one transaction.
//
// Rows are keyed by request id; re-flushing a request overwrites its
// earlier row with the newer lifecycle state.
func (r *Repository) SaveCommands(ctx context.Context, recs []CommandRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO device_commands (request_id, persistent_request_id, device_id,
		                             command_id, inputs, requested_by, status,
		                             created_at, broadcast_at, sent_at, received_at,
		                             pending_at, finished_at, not_before, not_after,
		                             history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			broadcast_at = excluded.broadcast_at,
			sent_at = excluded.sent_at,
			received_at = excluded.received_at,
			pending_at = excluded.pending_at,
			finished_at = excluded.finished_at,
			history = excluded.history`)
	if err != nil {
		return fmt.Errorf("preparing command upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, rec := range recs {
		inputsJSON, err := json.Marshal(rec.Inputs)
		if err != nil {
			return fmt.Errorf("encoding inputs for request %q: %w", rec.RequestID, err)
		}
		historyJSON, err := json.Marshal(rec.History)
		if err != nil {
			return fmt.Errorf("encoding history for request %q: %w", rec.RequestID, err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.RequestID, rec.PersistentRequestID, rec.DeviceID, rec.CommandID,
			string(inputsJSON), rec.RequestedBy, string(rec.Status),
			formatTime(rec.CreatedAt), nullTime(rec.BroadcastAt), nullTime(rec.SentAt),
			nullTime(rec.ReceivedAt), nullTime(rec.PendingAt), nullTime(rec.FinishedAt),
			nullTime(rec.NotBefore), nullTime(rec.NotAfter), string(historyJSON),
		)
		if err != nil {
			return fmt.Errorf("upserting request %q: %w", rec.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing command batch: %w", err)
	}
	return nil
}

// SaveStatuses bulk-inserts status records in one transaction.
func (r *Repository) SaveStatuses(ctx context.Context, recs []StatusRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO device_status_history
			(id, device_id, command_id, request_id, machine_status,
			 machine_status_extra, aux, human_status, human_message,
			 energy_usage, energy_unit, energy_type, reported_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing status insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, rec := range recs {
		auxJSON, err := json.Marshal(rec.Aux)
		if err != nil {
			return fmt.Errorf("encoding aux for status %q: %w", rec.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID, rec.DeviceID, rec.CommandID, rec.RequestID, rec.MachineStatus,
			rec.MachineStatusExtra, string(auxJSON), rec.HumanStatus, rec.HumanMessage,
			rec.EnergyUsage, rec.EnergyUnit, rec.EnergyKind, rec.ReportedBy,
			formatTime(rec.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting status %q: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing status batch: %w", err)
	}
	return nil
}

// PendingCommands returns persisted commands in non-terminal states,
// for restart recovery.
func (r *Repository) PendingCommands(ctx context.Context) ([]CommandRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, persistent_request_id, device_id, command_id, inputs,
		       requested_by, status, created_at, broadcast_at, sent_at,
		       received_at, pending_at, finished_at, not_before, not_after, history
		FROM device_commands
		WHERE status NOT IN (?, ?, ?, ?)
		ORDER BY created_at`,
		string(StatusFinished), string(StatusFailed),
		string(StatusCanceled), string(StatusDelayExpired))
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var recs []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var inputsJSON, historyJSON string
		var createdAt string
		var broadcastAt, sentAt, receivedAt, pendingAt, finishedAt sql.NullString
		var notBefore, notAfter sql.NullString

		err := rows.Scan(&rec.RequestID, &rec.PersistentRequestID, &rec.DeviceID,
			&rec.CommandID, &inputsJSON, &rec.RequestedBy, &rec.Status,
			&createdAt, &broadcastAt, &sentAt, &receivedAt, &pendingAt,
			&finishedAt, &notBefore, &notAfter, &historyJSON)
		if err != nil {
			return nil, fmt.Errorf("scanning pending command: %w", err)
		}

		if inputsJSON != "" && inputsJSON != "null" {
			if err := json.Unmarshal([]byte(inputsJSON), &rec.Inputs); err != nil {
				return nil, fmt.Errorf("parsing inputs for request %q: %w", rec.RequestID, err)
			}
		}
		if historyJSON != "" && historyJSON != "null" {
			if err := json.Unmarshal([]byte(historyJSON), &rec.History); err != nil {
				return nil, fmt.Errorf("parsing history for request %q: %w", rec.RequestID, err)
			}
		}

		rec.CreatedAt = parseTime(createdAt)
		rec.BroadcastAt = parseNullTime(broadcastAt)
		rec.SentAt = parseNullTime(sentAt)
		rec.ReceivedAt = parseNullTime(receivedAt)
		rec.PendingAt = parseNullTime(pendingAt)
		rec.FinishedAt = parseNullTime(finishedAt)
		rec.NotBefore = parseNullTime(notBefore)
		rec.NotAfter = parseNullTime(notAfter)

		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending commands: %w", err)
	}
	return recs, nil
}

// Timestamps are stored as RFC3339 UTC strings; zero times map to NULL.

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}
