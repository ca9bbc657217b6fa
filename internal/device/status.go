package device

import (
	"time"

	"github.com/hearthworks/hearth-core/internal/commands"
	"github.com/hearthworks/hearth-core/internal/platform"
)

// DeviceStatus is one immutable point-in-time snapshot of a device's
// reported state.
//
// Instances are created by Device.SetStatus and never mutated; they are
// only evicted from the bounded history ring when it fills.
type DeviceStatus struct {
	// ID uniquely identifies the snapshot.
	ID string `json:"id"`

	// DeviceID references the owning device.
	DeviceID string `json:"device_id"`

	// CommandID references the command that caused this status, empty
	// when no cause could be resolved.
	CommandID string `json:"command_id,omitempty"`

	// RequestID correlates the status to a DeviceCommand request.
	RequestID string `json:"request_id,omitempty"`

	// MachineStatus is the raw status level (e.g. 0 off, 1 on, 0.4 dim).
	MachineStatus float64 `json:"machine_status"`

	// MachineStatusExtra qualifies MachineStatus (e.g. a color value).
	MachineStatusExtra string `json:"machine_status_extra,omitempty"`

	// Aux is the merged auxiliary field map (allow-listed fields only).
	Aux map[string]any `json:"aux,omitempty"`

	// HumanStatus is the derived short status (e.g. "On").
	HumanStatus string `json:"human_status"`

	// HumanMessage is the derived longer description.
	HumanMessage string `json:"human_message,omitempty"`

	// EnergyUsage is the usage at this status, in EnergyUnit.
	EnergyUsage float64 `json:"energy_usage"`

	// EnergyUnit names the usage unit (e.g. "w").
	EnergyUnit string `json:"energy_unit,omitempty"`

	// EnergyKind records how the usage was derived.
	EnergyKind platform.EnergyKind `json:"energy_kind"`

	// ReportedBy identifies the status producer.
	ReportedBy string `json:"reported_by,omitempty"`

	// CreatedAt is the snapshot time.
	CreatedAt time.Time `json:"created_at"`
}

// StatusUpdate is the input to Device.SetStatus.
type StatusUpdate struct {
	// MachineStatus is the new raw status level.
	MachineStatus float64

	// MachineStatusExtra qualifies MachineStatus.
	MachineStatusExtra string

	// Aux carries auxiliary fields; they are merged over the previous
	// snapshot's map, with fields outside the platform allow-list
	// dropped.
	Aux map[string]any

	// HumanStatus/HumanMessage override the derived values when set.
	HumanStatus  string
	HumanMessage string

	// Command is the explicit causing command, when the producer knows it.
	Command *commands.Command

	// RequestID correlates the update to a DeviceCommand; used to
	// resolve the causing command when Command is nil.
	RequestID string

	// EnergyUsage is the measured usage, honored for sensor-kind
	// devices only.
	EnergyUsage float64

	// ReportedBy identifies the producer.
	ReportedBy string

	// Force bypasses the duplicate-status no-op rule.
	Force bool
}

// StatusChange is the payload published with device.status_changed
// events: the new snapshot plus the one it replaced (nil for the first
// status).
type StatusChange struct {
	New      *DeviceStatus
	Previous *DeviceStatus
}

// StatusRecord is the flat persistable form of a DeviceStatus.
type StatusRecord struct {
	ID                 string
	DeviceID           string
	CommandID          string
	RequestID          string
	MachineStatus      float64
	MachineStatusExtra string
	Aux                map[string]any
	HumanStatus        string
	HumanMessage       string
	EnergyUsage        float64
	EnergyUnit         string
	EnergyKind         string
	ReportedBy         string
	CreatedAt          time.Time
}

// record converts the snapshot for the write-behind queue.
func (s *DeviceStatus) record() StatusRecord {
	return StatusRecord{
		ID:                 s.ID,
		DeviceID:           s.DeviceID,
		CommandID:          s.CommandID,
		RequestID:          s.RequestID,
		MachineStatus:      s.MachineStatus,
		MachineStatusExtra: s.MachineStatusExtra,
		Aux:                s.Aux,
		HumanStatus:        s.HumanStatus,
		HumanMessage:       s.HumanMessage,
		EnergyUsage:        s.EnergyUsage,
		EnergyUnit:         s.EnergyUnit,
		EnergyKind:         string(s.EnergyKind),
		ReportedBy:         s.ReportedBy,
		CreatedAt:          s.CreatedAt,
	}
}
