package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearthworks/hearth-core/internal/commands"
	"github.com/hearthworks/hearth-core/internal/events"
	"github.com/hearthworks/hearth-core/internal/platform"
)

// EnabledStatus is a device's administrative state.
type EnabledStatus string

// Administrative states.
const (
	Enabled  EnabledStatus = "enabled"
	Disabled EnabledStatus = "disabled"
	Deleted  EnabledStatus = "deleted"
)

// Default engine tuning, used when Deps leaves the knobs zero.
const (
	defaultCommandRingSize = 35
	defaultStatusRingSize  = 40
	defaultMaxDelay        = 60 * time.Second

	// statusAverageBucket is the bucket size for the rolling status
	// level statistic.
	statusAverageBucket = 5 * time.Minute

	// energyUnitWatts is the unit recorded for derived energy usage.
	energyUnitWatts = "w"
)

// Logger is the minimal logging interface the device engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// FlushQueue receives records for write-behind persistence.
// *Flusher satisfies it; tests substitute an in-memory queue.
type FlushQueue interface {
	EnqueueCommand(rec CommandRecord)
	EnqueueStatus(rec StatusRecord)
}

// StatsRecorder receives fire-and-forget statistics.
// *stats.Collector satisfies it.
type StatsRecorder interface {
	Datapoint(series string, value float64)
	Average(series string, value float64, bucketSize time.Duration)
}

// SnapshotPublisher broadcasts status snapshots to an external message
// bus (MQTT). Purely observational; errors are logged, never surfaced.
type SnapshotPublisher interface {
	PublishStatus(deviceLabel string, payload []byte) error
}

// Deps bundles the collaborators a Device needs. Bus, Flush, Stats and
// Publisher are optional; missing ones are skipped.
type Deps struct {
	Catalog   *commands.Catalog
	Platforms *platform.Registry
	Bus       *events.Bus
	Flush     FlushQueue
	Stats     StatsRecorder
	Publisher SnapshotPublisher
	Logger    Logger

	// DefaultMaxDelay bounds delayed dispatch when the caller supplies
	// neither max_delay nor not_after.
	DefaultMaxDelay time.Duration

	// Ring capacities; zero selects the defaults.
	CommandRingSize int
	StatusRingSize  int

	// Now is the clock source, replaceable for tests.
	Now func() time.Time
}

// withDefaults fills the optional knobs.
func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	if d.DefaultMaxDelay <= 0 {
		d.DefaultMaxDelay = defaultMaxDelay
	}
	if d.CommandRingSize <= 0 {
		d.CommandRingSize = defaultCommandRingSize
	}
	if d.StatusRingSize <= 0 {
		d.StatusRingSize = defaultStatusRingSize
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Record is the persisted form of a device.
type Record struct {
	ID           string
	Label        string
	MachineLabel string
	PlatformID   string
	Description  string
	PinRequired  bool
	PinCode      string
	PinTimeout   time.Duration
	Enabled      EnabledStatus
	EnergyKind   platform.EnergyKind
	EnergyMap    platform.EnergyMap
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Device is one physical or virtual endpoint: identity, capability
// bindings, the bounded command and status rings, and the lifecycle
// engine operating on them.
//
// A Device is exclusively owned by the Registry and lives for the
// process lifetime unless deleted. All mutable state is guarded by one
// per-device mutex; dispatch timers re-enter through the same lock, so
// per-device operations are serialized the way a single event loop
// would serialize them. No ordering is guaranteed across devices.
type Device struct {
	// Identity; immutable after construction.
	ID           string
	Label        string
	MachineLabel string
	PlatformID   string
	Description  string

	platform *platform.Platform
	deps     Deps

	mu             sync.Mutex
	pinRequired    bool
	pinCode        string
	pinTimeout     time.Duration
	pinValidatedAt time.Time
	enabled        EnabledStatus
	energyKind     platform.EnergyKind
	energyMap      platform.EnergyMap
	commandRing    *Ring[*DeviceCommand]
	statusRing     *Ring[*DeviceStatus]
	byRequestID    map[string]*DeviceCommand
	byPersistent   map[string]*DeviceCommand
	createdAt      time.Time
	updatedAt      time.Time

	// statusDeriver maps raw status to human status/message; the
	// default is generic, platforms may install their own.
	statusDeriver func(machineStatus float64, extra string) (string, string)

	// commandInferer guesses the causing command for a status update
	// that arrived without one; nil uses the toggle-pair heuristic.
	commandInferer func(upd StatusUpdate) *commands.Command
}

// New constructs a Device from its persisted record.
//
// Parameters:
//   - rec: The persisted device record
//   - deps: Engine collaborators
//
// Returns:
//   - *Device: The constructed device
//   - error: ErrInvalidDevice for a malformed record, or
//     platform.ErrPlatformNotFound for an unknown platform
func New(rec Record, deps Deps) (*Device, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if rec.MachineLabel == "" {
		return nil, fmt.Errorf("%w: machine label is required", ErrInvalidDevice)
	}
	if deps.Catalog == nil || deps.Platforms == nil {
		return nil, fmt.Errorf("%w: catalog and platform registry are required", ErrInvalidDevice)
	}

	plat, err := deps.Platforms.Get(rec.PlatformID)
	if err != nil {
		return nil, fmt.Errorf("constructing device %q: %w", rec.MachineLabel, err)
	}

	deps = deps.withDefaults()

	enabled := rec.Enabled
	if enabled == "" {
		enabled = Enabled
	}
	energyKind := rec.EnergyKind
	if energyKind == "" {
		energyKind = plat.EnergyKind
	}
	energyMap := rec.EnergyMap
	if len(energyMap) == 0 {
		energyMap = plat.EnergyMap
	}

	d := &Device{
		ID:           rec.ID,
		Label:        rec.Label,
		MachineLabel: strings.ToLower(rec.MachineLabel),
		PlatformID:   rec.PlatformID,
		Description:  rec.Description,
		platform:     plat,
		deps:         deps,
		pinRequired:  rec.PinRequired,
		pinCode:      rec.PinCode,
		pinTimeout:   rec.PinTimeout,
		enabled:      enabled,
		energyKind:   energyKind,
		energyMap:    energyMap,
		commandRing:  NewRing[*DeviceCommand](deps.CommandRingSize),
		statusRing:   NewRing[*DeviceStatus](deps.StatusRingSize),
		byRequestID:  make(map[string]*DeviceCommand),
		byPersistent: make(map[string]*DeviceCommand),
		createdAt:    rec.CreatedAt,
		updatedAt:    rec.UpdatedAt,
	}
	return d, nil
}

// Platform returns the device's capability declarations.
func (d *Device) Platform() *platform.Platform { return d.platform }

// Enabled returns the administrative state.
func (d *Device) Enabled() EnabledStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetEnabled updates the administrative state.
func (d *Device) SetEnabled(s EnabledStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = s
	d.updatedAt = d.deps.Now().UTC()
}

// SetStatusDeriver installs a platform-specific human status deriver.
func (d *Device) SetStatusDeriver(fn func(machineStatus float64, extra string) (string, string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusDeriver = fn
}

// SetCommandInferer installs a platform-specific causing-command
// inference function for unattributed status updates.
func (d *Device) SetCommandInferer(fn func(upd StatusUpdate) *commands.Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandInferer = fn
}

// CurrentStatus returns the newest status snapshot, nil if none.
func (d *Device) CurrentStatus() *DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, _ := d.statusRing.Newest()
	return st
}

// StatusHistory returns the status ring newest-first.
func (d *Device) StatusHistory() []*DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusRing.Snapshot()
}

// RecentCommands returns the command ring newest-first. Terminal
// (including canceled) requests remain listed until capacity evicts
// them.
func (d *Device) RecentCommands() []*DeviceCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commandRing.Snapshot()
}

// Request returns a tracked DeviceCommand by request id.
//
// Returns:
//   - *DeviceCommand: The request
//   - error: ErrRequestNotFound if it is unknown or already evicted
func (d *Device) Request(requestID string) (*DeviceCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dc, ok := d.byRequestID[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %q on device %q", ErrRequestNotFound, requestID, d.MachineLabel)
	}
	return dc, nil
}

// Rec captures the device's persistable state.
func (d *Device) Rec() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Record{
		ID:           d.ID,
		Label:        d.Label,
		MachineLabel: d.MachineLabel,
		PlatformID:   d.PlatformID,
		Description:  d.Description,
		PinRequired:  d.pinRequired,
		PinCode:      d.pinCode,
		PinTimeout:   d.pinTimeout,
		Enabled:      d.enabled,
		EnergyKind:   d.energyKind,
		EnergyMap:    d.energyMap,
		CreatedAt:    d.createdAt,
		UpdatedAt:    d.updatedAt,
	}
}
