package device

import (
	"sync"
	"time"

	"github.com/hearthworks/hearth-core/internal/commands"
)

// CommandStatus is a DeviceCommand's lifecycle state.
type CommandStatus string

// Lifecycle states. Flow:
//
//	new → broadcast → [delayed] → sent → received → pending* →
//	    {finished | failed | canceled | delay_expired}
//
// pending may repeat; the four closing states are terminal.
const (
	StatusNew          CommandStatus = "new"
	StatusBroadcast    CommandStatus = "broadcast"
	StatusDelayed      CommandStatus = "delayed"
	StatusSent         CommandStatus = "sent"
	StatusReceived     CommandStatus = "received"
	StatusPending      CommandStatus = "pending"
	StatusFinished     CommandStatus = "finished"
	StatusFailed       CommandStatus = "failed"
	StatusCanceled     CommandStatus = "canceled"
	StatusDelayExpired CommandStatus = "delay_expired"
)

// Terminal reports whether the state permits no further transitions.
func (s CommandStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCanceled, StatusDelayExpired:
		return true
	default:
		return false
	}
}

// HistoryEntry is one append-only lifecycle log record.
type HistoryEntry struct {
	At      time.Time     `json:"at"`
	Status  CommandStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Origin  string        `json:"origin,omitempty"`
}

// DeviceCommand is one command request against a device, carrying its
// own lifecycle state machine.
//
// Identity fields are immutable after creation. Lifecycle state moves
// forward only through the mutators; once a terminal state is reached
// every further mutator call is a no-op (only the persisted bookkeeping
// flag may still change). All mutation is guarded by an internal mutex,
// so external handlers may drive the lifecycle from any goroutine.
type DeviceCommand struct {
	// RequestID uniquely identifies this request.
	RequestID string

	// PersistentRequestID is the optional de-duplication key: at most
	// one non-terminal request per key exists on a device.
	PersistentRequestID string

	// DeviceID references the owning device.
	DeviceID string

	// Command is the resolved command definition.
	Command *commands.Command

	// Inputs holds the validated command input parameters.
	Inputs map[string]any

	// RequestedBy identifies the requester.
	RequestedBy string

	// NotBefore/NotAfter bound delayed dispatch; both zero for
	// immediate requests.
	NotBefore time.Time
	NotAfter  time.Time

	// CreatedAt is the request creation time.
	CreatedAt time.Time

	mu           sync.Mutex
	status       CommandStatus
	broadcastAt  time.Time
	sentAt       time.Time
	receivedAt   time.Time
	pendingAt    time.Time
	finishedAt   time.Time
	history      []HistoryEntry
	persisted    bool
	timer        *time.Timer
	timerStopped bool

	// onChange is invoked after every accepted transition, outside the
	// lock. The owning Device uses it to publish events and schedule
	// persistence.
	onChange func(dc *DeviceCommand, prev, next CommandStatus)

	now func() time.Time
}

// newDeviceCommand creates a request in state "new" with its first
// history entry.
func newDeviceCommand(requestID, deviceID string, cmd *commands.Command, now func() time.Time) *DeviceCommand {
	if now == nil {
		now = time.Now
	}
	ts := now().UTC()
	return &DeviceCommand{
		RequestID: requestID,
		DeviceID:  deviceID,
		Command:   cmd,
		CreatedAt: ts,
		status:    StatusNew,
		history: []HistoryEntry{
			{At: ts, Status: StatusNew, Origin: "engine"},
		},
		now: now,
	}
}

// Status returns the current lifecycle state.
func (dc *DeviceCommand) Status() CommandStatus {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.status
}

// History returns a copy of the append-only lifecycle log.
func (dc *DeviceCommand) History() []HistoryEntry {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return append([]HistoryEntry(nil), dc.history...)
}

// Persisted reports whether the request has been flushed to the store.
func (dc *DeviceCommand) Persisted() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.persisted
}

// SetPersisted updates the durability bookkeeping flag. Unlike the
// lifecycle mutators this is permitted after a terminal state.
func (dc *DeviceCommand) SetPersisted(persisted bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.persisted = persisted
}

// Lifecycle mutators. Each appends a history entry and notifies the
// owning device; calls after a terminal state are no-ops.

// SetBroadcast marks the request as published to subscribers.
func (dc *DeviceCommand) SetBroadcast(origin string) bool {
	return dc.transition(StatusBroadcast, "", origin)
}

// SetDelayed marks the request as waiting on its dispatch timer.
func (dc *DeviceCommand) SetDelayed(message, origin string) bool {
	return dc.transition(StatusDelayed, message, origin)
}

// SetSent records that a handler transmitted the command to the device.
func (dc *DeviceCommand) SetSent(message, origin string) bool {
	return dc.transition(StatusSent, message, origin)
}

// SetReceived records that the device (or a handler on its behalf)
// acknowledged the command.
func (dc *DeviceCommand) SetReceived(message, origin string) bool {
	return dc.transition(StatusReceived, message, origin)
}

// SetPending records intermediate progress; it may be called repeatedly
// and appends a history entry each time.
func (dc *DeviceCommand) SetPending(message, origin string) bool {
	return dc.transition(StatusPending, message, origin)
}

// SetFinished terminalizes the request as successfully completed.
func (dc *DeviceCommand) SetFinished(message, origin string) bool {
	return dc.transition(StatusFinished, message, origin)
}

// SetFailed terminalizes the request as failed.
func (dc *DeviceCommand) SetFailed(message, origin string) bool {
	return dc.transition(StatusFailed, message, origin)
}

// Cancel terminalizes the request as canceled.
func (dc *DeviceCommand) Cancel(message, origin string) bool {
	return dc.transition(StatusCanceled, message, origin)
}

// expireDelay terminalizes a delayed request whose window closed before
// its timer fired. The request is never broadcast.
func (dc *DeviceCommand) expireDelay(origin string) bool {
	return dc.transition(StatusDelayExpired, "scheduling window expired before dispatch", origin)
}

// transition applies one lifecycle state change.
//
// Returns false without side effects when the request is already
// terminal, or when the target state equals the current state (repeat
// calls are idempotent, except pending which legitimately repeats).
func (dc *DeviceCommand) transition(to CommandStatus, message, origin string) bool {
	dc.mu.Lock()

	if dc.status.Terminal() {
		dc.mu.Unlock()
		return false
	}
	if to == dc.status && to != StatusPending {
		dc.mu.Unlock()
		return false
	}

	prev := dc.status
	ts := dc.now().UTC()
	dc.status = to
	dc.stampLocked(to, ts)
	dc.history = append(dc.history, HistoryEntry{At: ts, Status: to, Message: message, Origin: origin})

	if to.Terminal() {
		dc.stopTimerLocked()
		dc.persisted = false
	}

	cb := dc.onChange
	dc.mu.Unlock()

	if cb != nil {
		cb(dc, prev, to)
	}
	return true
}

// stampLocked records the first time each lifecycle stage is entered.
func (dc *DeviceCommand) stampLocked(s CommandStatus, ts time.Time) {
	switch s {
	case StatusBroadcast:
		if dc.broadcastAt.IsZero() {
			dc.broadcastAt = ts
		}
	case StatusSent:
		if dc.sentAt.IsZero() {
			dc.sentAt = ts
		}
	case StatusReceived:
		if dc.receivedAt.IsZero() {
			dc.receivedAt = ts
		}
	case StatusPending:
		if dc.pendingAt.IsZero() {
			dc.pendingAt = ts
		}
	case StatusFinished, StatusFailed, StatusCanceled, StatusDelayExpired:
		if dc.finishedAt.IsZero() {
			dc.finishedAt = ts
		}
	}
}

// armTimer installs the one-shot delayed-dispatch timer.
func (dc *DeviceCommand) armTimer(d time.Duration, fire func()) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.status.Terminal() || dc.timerStopped {
		return
	}
	dc.timer = time.AfterFunc(d, fire)
}

// stopTimerLocked cancels the dispatch timer exactly once; further
// calls are no-ops. Caller holds dc.mu.
func (dc *DeviceCommand) stopTimerLocked() {
	if dc.timerStopped {
		return
	}
	dc.timerStopped = true
	if dc.timer != nil {
		dc.timer.Stop()
	}
}

// Record captures the request's persistable state.
func (dc *DeviceCommand) Record() CommandRecord {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return CommandRecord{
		RequestID:           dc.RequestID,
		PersistentRequestID: dc.PersistentRequestID,
		DeviceID:            dc.DeviceID,
		CommandID:           dc.Command.ID,
		Inputs:              dc.Inputs,
		RequestedBy:         dc.RequestedBy,
		Status:              dc.status,
		CreatedAt:           dc.CreatedAt,
		BroadcastAt:         dc.broadcastAt,
		SentAt:              dc.sentAt,
		ReceivedAt:          dc.receivedAt,
		PendingAt:           dc.pendingAt,
		FinishedAt:          dc.finishedAt,
		NotBefore:           dc.NotBefore,
		NotAfter:            dc.NotAfter,
		History:             append([]HistoryEntry(nil), dc.history...),
	}
}

// CommandRecord is the flat persistable form of a DeviceCommand, used
// by the write-behind flusher and the repository.
type CommandRecord struct {
	RequestID           string
	PersistentRequestID string
	DeviceID            string
	CommandID           string
	Inputs              map[string]any
	RequestedBy         string
	Status              CommandStatus
	CreatedAt           time.Time
	BroadcastAt         time.Time
	SentAt              time.Time
	ReceivedAt          time.Time
	PendingAt           time.Time
	FinishedAt          time.Time
	NotBefore           time.Time
	NotAfter            time.Time
	History             []HistoryEntry
}
