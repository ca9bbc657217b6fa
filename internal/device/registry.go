package device

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hearthworks/hearth-core/internal/events"
	"github.com/hearthworks/hearth-core/internal/fuzzy"
)

// Store is the persistence surface the Registry needs.
// *Repository satisfies it; tests substitute an in-memory store.
type Store interface {
	AllDevices(ctx context.Context) ([]Record, error)
	SaveDevice(ctx context.Context, rec Record) error
	DeleteDevice(ctx context.Context, id string) error
	PendingCommands(ctx context.Context) ([]CommandRecord, error)
}

// Registry owns every Device in the process.
//
// Devices are indexed by id and machine label; label lookups fall back
// to fuzzy matching. The registry is the single authority for device
// construction and routing - callers address devices through it rather
// than holding references of their own.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	store   Store
	deps    Deps
	limiter float64

	mu      sync.RWMutex
	byID    map[string]*Device
	byLabel map[string]*Device
	order   []string
}

// RegistryStats summarizes the registry for monitoring.
type RegistryStats struct {
	Total      int
	Enabled    int
	Disabled   int
	ByPlatform map[string]int
}

// NewRegistry creates an empty registry.
//
// Parameters:
//   - store: Device persistence (may be nil for ephemeral registries)
//   - deps: Collaborators handed to every constructed Device
//   - limiter: Fuzzy label-lookup limiter (0 for the default)
func NewRegistry(store Store, deps Deps, limiter float64) *Registry {
	return &Registry{
		store:   store,
		deps:    deps.withDefaults(),
		limiter: fuzzy.ClampLimiter(limiter),
		byID:    make(map[string]*Device),
		byLabel: make(map[string]*Device),
	}
}

// Load constructs Devices from all persisted records.
//
// Invalid records are skipped with a warning rather than failing the
// whole load. No lifecycle events are published for loaded devices.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If the store query fails
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	recs, err := r.store.AllDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	loaded := 0
	for _, rec := range recs {
		if rec.Enabled == Deleted {
			continue
		}
		dev, err := New(rec, r.deps)
		if err != nil {
			r.deps.Logger.Warn("skipping invalid device record",
				"device_id", rec.ID,
				"machine_label", rec.MachineLabel,
				"error", err,
			)
			continue
		}
		r.indexLocked(dev, true)
		loaded++
	}

	r.deps.Logger.Info("devices loaded", "count", loaded)
	return nil
}

// indexLocked adds a device to the indexes, taking the lock itself when
// lock is true.
func (r *Registry) indexLocked(dev *Device, lock bool) {
	if lock {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	if _, dup := r.byID[dev.ID]; !dup {
		r.order = append(r.order, dev.ID)
	}
	r.byID[dev.ID] = dev
	r.byLabel[dev.MachineLabel] = dev
}

// Create registers and persists a new device.
//
// An id is allocated when the record has none. Publishes a
// device.created event on success.
//
// Returns:
//   - *Device: The constructed device
//   - error: ErrDeviceExists on duplicate id or machine label, or a
//     construction/persistence failure
func (r *Registry) Create(ctx context.Context, rec Record) (*Device, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.MachineLabel = strings.ToLower(strings.TrimSpace(rec.MachineLabel))
	now := r.deps.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	r.mu.Lock()
	if _, dup := r.byID[rec.ID]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: id %q", ErrDeviceExists, rec.ID)
	}
	if _, dup := r.byLabel[rec.MachineLabel]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: machine label %q", ErrDeviceExists, rec.MachineLabel)
	}

	dev, err := New(rec, r.deps)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.indexLocked(dev, false)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveDevice(ctx, dev.Rec()); err != nil {
			r.deps.Logger.Error("persisting new device", "device", dev.MachineLabel, "error", err)
		}
	}

	r.publish(ctx, events.KindDeviceCreated, dev)
	return dev, nil
}

// Update applies mutable fields from the record to an existing device
// and persists it. Publishes a device.updated event.
//
// Identity fields (id, machine label, platform) are not updatable.
func (r *Registry) Update(ctx context.Context, rec Record) (*Device, error) {
	dev, err := r.Get(rec.ID)
	if err != nil {
		return nil, err
	}

	dev.applyUpdate(rec)

	if r.store != nil {
		if err := r.store.SaveDevice(ctx, dev.Rec()); err != nil {
			r.deps.Logger.Error("persisting device update", "device", dev.MachineLabel, "error", err)
		}
	}

	r.publish(ctx, events.KindDeviceUpdated, dev)
	return dev, nil
}

// Delete soft-deletes a device: it is removed from the indexes, marked
// deleted, and persisted as such. Publishes a device.deleted event.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	dev, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	delete(r.byID, id)
	delete(r.byLabel, dev.MachineLabel)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	dev.SetEnabled(Deleted)

	if r.store != nil {
		if err := r.store.DeleteDevice(ctx, id); err != nil {
			r.deps.Logger.Error("persisting device delete", "device", dev.MachineLabel, "error", err)
		}
	}

	r.publish(ctx, events.KindDeviceDeleted, dev)
	return nil
}

// Get returns a device by exact id.
//
// Returns:
//   - *Device: The device
//   - error: ErrDeviceNotFound on miss
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	return dev, nil
}

// Find resolves a device by id or label, falling back to fuzzy label
// matching.
//
// Parameters:
//   - idOrLabel: Device id, machine label, or human label (possibly
//     misspelled)
//
// Returns:
//   - *Device: The resolved device
//   - error: ErrDeviceNotFound (wrapping a *fuzzy.MissError when the
//     fuzzy fallback also missed)
func (r *Registry) Find(idOrLabel string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if dev, ok := r.byID[idOrLabel]; ok {
		return dev, nil
	}
	lowered := strings.ToLower(strings.TrimSpace(idOrLabel))
	if dev, ok := r.byLabel[lowered]; ok {
		return dev, nil
	}

	// Fuzzy fallback over machine labels and human labels.
	keys := make([]string, 0, 2*len(r.order))
	keyToID := make(map[string]string, 2*len(r.order))
	for _, id := range r.order {
		dev := r.byID[id]
		for _, key := range []string{dev.MachineLabel, strings.ToLower(dev.Label)} {
			if key == "" {
				continue
			}
			if _, dup := keyToID[key]; dup {
				continue
			}
			keyToID[key] = id
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, idOrLabel)
	}

	matcher := fuzzy.NewMatcher(keys, r.limiter)
	key, _, err := matcher.Search(lowered)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrDeviceNotFound, idOrLabel, err)
	}
	return r.byID[keyToID[key]], nil
}

// Command routes a command request to a device by id or label.
func (r *Registry) Command(ctx context.Context, idOrLabel string, req CommandRequest) (*DeviceCommand, error) {
	dev, err := r.Find(idOrLabel)
	if err != nil {
		return nil, err
	}
	return dev.Command(ctx, req)
}

// SetStatus routes a status update to a device by id or label.
func (r *Registry) SetStatus(ctx context.Context, idOrLabel string, upd StatusUpdate) (*DeviceStatus, error) {
	dev, err := r.Find(idOrLabel)
	if err != nil {
		return nil, err
	}
	return dev.SetStatus(ctx, upd)
}

// Devices returns all registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// GetStats summarizes the registry by platform and enabled state.
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Total:      len(r.byID),
		ByPlatform: make(map[string]int),
	}
	for _, dev := range r.byID {
		stats.ByPlatform[dev.PlatformID]++
		switch dev.Enabled() {
		case Enabled:
			stats.Enabled++
		case Disabled:
			stats.Disabled++
		}
	}
	return stats
}

// MarkCommandsPersisted flips the persisted flag on every tracked
// request in the given set. Wired as the Flusher's post-flush callback.
func (r *Registry) MarkCommandsPersisted(requestIDs []string) {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, r.byID[id])
	}
	r.mu.RUnlock()

	remaining := make(map[string]struct{}, len(requestIDs))
	for _, id := range requestIDs {
		remaining[id] = struct{}{}
	}

	for _, dev := range devices {
		if len(remaining) == 0 {
			return
		}
		dev.mu.Lock()
		for id := range remaining {
			if dc, ok := dev.byRequestID[id]; ok {
				dc.SetPersisted(true)
				delete(remaining, id)
			}
		}
		dev.mu.Unlock()
	}
}

// publish emits a registry lifecycle event.
func (r *Registry) publish(ctx context.Context, kind events.Kind, dev *Device) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(ctx, events.Event{
		Kind:     kind,
		DeviceID: dev.ID,
		At:       r.deps.Now().UTC(),
		Payload:  dev.Rec(),
	})
}

// applyUpdate copies the mutable fields of a record onto the device.
func (d *Device) applyUpdate(rec Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.Label != "" {
		d.Label = rec.Label
	}
	if rec.Description != "" {
		d.Description = rec.Description
	}
	d.pinRequired = rec.PinRequired
	if rec.PinCode != "" {
		d.pinCode = rec.PinCode
	}
	if rec.PinTimeout > 0 {
		d.pinTimeout = rec.PinTimeout
	}
	if rec.Enabled != "" {
		d.enabled = rec.Enabled
	}
	if rec.EnergyKind != "" {
		d.energyKind = rec.EnergyKind
	}
	if len(rec.EnergyMap) > 0 {
		d.energyMap = rec.EnergyMap
	}
	d.updatedAt = d.deps.Now().UTC()
}
