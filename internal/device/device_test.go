package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthworks/hearth-core/internal/commands"
	"github.com/hearthworks/hearth-core/internal/events"
	"github.com/hearthworks/hearth-core/internal/fuzzy"
	"github.com/hearthworks/hearth-core/internal/platform"
)

// memFlush is an in-memory FlushQueue capturing enqueued records.
type memFlush struct {
	mu       sync.Mutex
	commands []CommandRecord
	statuses []StatusRecord
}

func (m *memFlush) EnqueueCommand(rec CommandRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, rec)
}

func (m *memFlush) EnqueueStatus(rec StatusRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, rec)
}

func (m *memFlush) commandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

func (m *memFlush) statusCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statuses)
}

// testEnv bundles a device with controllable collaborators.
type testEnv struct {
	device *Device
	bus    *events.Bus
	flush  *memFlush
	clock  time.Time
	mu     sync.Mutex
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = e.clock.Add(d)
}

func testCatalog(limiter float64) *commands.Catalog {
	return commands.NewCatalog([]*commands.Command{
		{ID: "cmd-on", MachineLabel: "on", Label: "Turn On"},
		{ID: "cmd-off", MachineLabel: "off", Label: "Turn Off"},
		{ID: "cmd-dim", MachineLabel: "dim", Label: "Dim"},
		{ID: "cmd-brighten", MachineLabel: "brighten", Label: "Brighten"},
		{ID: "cmd-open", MachineLabel: "open", Label: "Open"},
		{ID: "cmd-close", MachineLabel: "close", Label: "Close"},
	}, limiter)
}

// newTestDevice constructs a device on controllable collaborators.
// mutate may adjust the record and deps before construction.
func newTestDevice(t *testing.T, mutate func(rec *Record, deps *Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		bus:   events.NewBus(),
		flush: &memFlush{},
		clock: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}

	rec := Record{
		ID:           "dev-1",
		Label:        "Porch Light",
		MachineLabel: "porch-light",
		PlatformID:   "dimmer",
		Enabled:      Enabled,
	}
	deps := Deps{
		Catalog:   testCatalog(0.80),
		Platforms: platform.NewRegistry(platform.Defaults()),
		Bus:       env.bus,
		Flush:     env.flush,
		Now:       env.now,
	}
	if mutate != nil {
		mutate(&rec, &deps)
	}

	dev, err := New(rec, deps)
	if err != nil {
		t.Fatalf("constructing test device: %v", err)
	}
	env.device = dev
	return env
}

// collectKind subscribes a counter for one event kind.
func collectKind(bus *events.Bus, kind events.Kind) *int {
	count := new(int)
	bus.Subscribe("collector-"+string(kind), []events.Kind{kind},
		func(ctx context.Context, ev events.Event) events.Result {
			*count++
			return events.Result{}
		})
	return count
}

func TestCommandDisabledDevice(t *testing.T) {
	env := newTestDevice(t, func(rec *Record, _ *Deps) {
		rec.Enabled = Disabled
	})

	_, err := env.device.Command(context.Background(), CommandRequest{Command: "on"})
	if !errors.Is(err, ErrDeviceDisabled) {
		t.Fatalf("expected ErrDeviceDisabled, got %v", err)
	}
	if len(env.device.RecentCommands()) != 0 {
		t.Error("a DeviceCommand was created for a disabled device")
	}
	if env.flush.commandCount() != 0 {
		t.Error("a record was flushed for a disabled device")
	}
}

func TestCommandPinScenario(t *testing.T) {
	env := newTestDevice(t, func(rec *Record, _ *Deps) {
		rec.PinRequired = true
		rec.PinCode = "1234"
	})
	ctx := context.Background()

	if _, err := env.device.Command(ctx, CommandRequest{Command: "on", Pin: "0000"}); !errors.Is(err, ErrPinInvalid) {
		t.Fatalf("wrong pin: expected ErrPinInvalid, got %v", err)
	}
	if _, err := env.device.Command(ctx, CommandRequest{Command: "on"}); !errors.Is(err, ErrPinRequired) {
		t.Fatalf("missing pin: expected ErrPinRequired, got %v", err)
	}
	if len(env.device.RecentCommands()) != 0 {
		t.Fatal("pin failures must not create DeviceCommands")
	}

	dc, err := env.device.Command(ctx, CommandRequest{Command: "on", Pin: "1234"})
	if err != nil {
		t.Fatalf("correct pin rejected: %v", err)
	}
	if dc.Status() != StatusBroadcast {
		t.Errorf("status = %s, want broadcast", dc.Status())
	}
}

func TestCommandPinTimeoutWindow(t *testing.T) {
	env := newTestDevice(t, func(rec *Record, _ *Deps) {
		rec.PinRequired = true
		rec.PinCode = "1234"
		rec.PinTimeout = 5 * time.Minute
	})
	ctx := context.Background()

	if _, err := env.device.Command(ctx, CommandRequest{Command: "on", Pin: "1234"}); err != nil {
		t.Fatalf("initial pin command failed: %v", err)
	}

	// Inside the window the pin is remembered.
	env.advance(time.Minute)
	if _, err := env.device.Command(ctx, CommandRequest{Command: "off"}); err != nil {
		t.Fatalf("command inside pin window failed: %v", err)
	}

	// Outside the window the pin is demanded again.
	env.advance(10 * time.Minute)
	if _, err := env.device.Command(ctx, CommandRequest{Command: "on"}); !errors.Is(err, ErrPinRequired) {
		t.Fatalf("expected ErrPinRequired after window, got %v", err)
	}
}

func TestCommandUnknownCommand(t *testing.T) {
	env := newTestDevice(t, nil)

	_, err := env.device.Command(context.Background(), CommandRequest{Command: "explode"})
	var miss *fuzzy.MissError
	if !errors.As(err, &miss) {
		t.Fatalf("expected fuzzy miss, got %v", err)
	}
	if len(env.device.RecentCommands()) != 0 {
		t.Error("a DeviceCommand was created for an unknown command")
	}
}

func TestCommandFuzzyResolution(t *testing.T) {
	env := newTestDevice(t, nil)

	dc, err := env.device.Command(context.Background(), CommandRequest{Command: "dimm"})
	if err != nil {
		t.Fatalf("fuzzy resolution failed: %v", err)
	}
	if dc.Command.MachineLabel != "dim" {
		t.Errorf("resolved %q, want dim", dc.Command.MachineLabel)
	}
}

func TestCommandNotAllowed(t *testing.T) {
	env := newTestDevice(t, func(rec *Record, _ *Deps) {
		rec.PlatformID = "relay" // relays cannot dim
	})

	_, err := env.device.Command(context.Background(), CommandRequest{Command: "dim"})
	if !errors.Is(err, ErrCommandNotAllowed) {
		t.Fatalf("expected ErrCommandNotAllowed, got %v", err)
	}
}

func TestCommandInputValidation(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	dc, err := env.device.Command(ctx, CommandRequest{
		Command: "dim",
		Inputs:  map[string]any{"brightness": 0.333},
	})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if dc.Inputs["brightness"] != 0.33 {
		t.Errorf("brightness = %v, want discretized 0.33", dc.Inputs["brightness"])
	}

	_, err = env.device.Command(ctx, CommandRequest{
		Command: "dim",
		Inputs:  map[string]any{"color": "red"},
	})
	if !errors.Is(err, platform.ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}

func TestToggleScenario(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	if _, err := env.device.Command(ctx, CommandRequest{Command: "on"}); err != nil {
		t.Fatalf("Command(on) failed: %v", err)
	}

	dc, err := env.device.Command(ctx, CommandRequest{Command: "toggle"})
	if err != nil {
		t.Fatalf("Command(toggle) failed: %v", err)
	}
	if dc.Command.MachineLabel != "off" {
		t.Errorf("toggle resolved %q, want off", dc.Command.MachineLabel)
	}
}

func TestToggleFromStatus(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	if _, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 1}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	dc, err := env.device.Command(ctx, CommandRequest{Command: "toggle"})
	if err != nil {
		t.Fatalf("Command(toggle) failed: %v", err)
	}
	if dc.Command.MachineLabel != "off" {
		t.Errorf("toggle resolved %q, want off", dc.Command.MachineLabel)
	}
}

func TestCommandMalformedWindow(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()
	now := env.now()

	tests := []struct {
		name string
		req  CommandRequest
	}{
		{"not_after before not_before", CommandRequest{
			Command:   "on",
			NotBefore: now.Add(10 * time.Second),
			NotAfter:  now.Add(5 * time.Second),
		}},
		{"not_before in the past", CommandRequest{
			Command:   "on",
			NotBefore: now.Add(-time.Minute),
			NotAfter:  now.Add(time.Minute),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.device.Command(ctx, tt.req)
			if !errors.Is(err, ErrMalformedWindow) {
				t.Fatalf("expected ErrMalformedWindow, got %v", err)
			}
		})
	}
	if len(env.device.RecentCommands()) != 0 {
		t.Error("malformed windows must not create DeviceCommands")
	}
}

func TestDelayedDispatch(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()
	broadcasts := collectKind(env.bus, events.KindCommandBroadcast)

	dc, err := env.device.Command(ctx, CommandRequest{
		Command:  "on",
		Delay:    time.Hour,
		MaxDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if dc.Status() != StatusDelayed {
		t.Fatalf("status = %s, want delayed", dc.Status())
	}
	if *broadcasts != 0 {
		t.Fatal("delayed command broadcast before its timer fired")
	}

	// Fire inside the window.
	env.advance(90 * time.Minute)
	env.device.fireDelayed(ctx, dc)

	if dc.Status() != StatusBroadcast {
		t.Errorf("status after fire = %s, want broadcast", dc.Status())
	}
	if *broadcasts != 1 {
		t.Errorf("broadcast events = %d, want 1", *broadcasts)
	}
}

func TestDelayExpired(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()
	broadcasts := collectKind(env.bus, events.KindCommandBroadcast)

	dc, err := env.device.Command(ctx, CommandRequest{
		Command:  "on",
		Delay:    time.Hour,
		MaxDelay: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	// The timer fires after not_after has passed.
	env.advance(2 * time.Hour)
	env.device.fireDelayed(ctx, dc)

	if dc.Status() != StatusDelayExpired {
		t.Fatalf("status = %s, want delay_expired", dc.Status())
	}
	if *broadcasts != 0 {
		t.Error("expired command must never broadcast")
	}
	if env.flush.commandCount() == 0 {
		t.Error("terminal state did not enqueue a flush")
	}
}

func TestDelayedDefaultMaxDelay(t *testing.T) {
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.DefaultMaxDelay = 60 * time.Second
	})

	dc, err := env.device.Command(context.Background(), CommandRequest{
		Command: "on",
		Delay:   10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	wantNotAfter := env.now().Add(10 * time.Second).Add(60 * time.Second)
	if !dc.NotAfter.Equal(wantNotAfter) {
		t.Errorf("NotAfter = %v, want default-bounded %v", dc.NotAfter, wantNotAfter)
	}
}

func TestPersistentRequestSupersession(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	first, err := env.device.Command(ctx, CommandRequest{
		Command:             "on",
		PersistentRequestID: "morning-routine",
	})
	if err != nil {
		t.Fatalf("first command failed: %v", err)
	}

	second, err := env.device.Command(ctx, CommandRequest{
		Command:             "off",
		PersistentRequestID: "morning-routine",
	})
	if err != nil {
		t.Fatalf("second command failed: %v", err)
	}

	if first.Status() != StatusCanceled {
		t.Fatalf("first status = %s, want canceled", first.Status())
	}
	history := first.History()
	last := history[len(history)-1]
	if !strings.Contains(last.Message, "superseded") {
		t.Errorf("cancellation message = %q, want supersession mention", last.Message)
	}
	if second.Status().Terminal() {
		t.Errorf("second request should be active, is %s", second.Status())
	}

	// A third request supersedes the second, not the (terminal) first.
	third, err := env.device.Command(ctx, CommandRequest{
		Command:             "on",
		PersistentRequestID: "morning-routine",
	})
	if err != nil {
		t.Fatalf("third command failed: %v", err)
	}
	if second.Status() != StatusCanceled {
		t.Errorf("second status = %s, want canceled", second.Status())
	}
	if third.Status().Terminal() {
		t.Errorf("third request should be active, is %s", third.Status())
	}
}

func TestSupersessionCancelPrecedesSuccessor(t *testing.T) {
	// A ticking clock makes the ordering of history entries observable.
	var mu sync.Mutex
	tick := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick = tick.Add(time.Millisecond)
			return tick
		}
	})
	ctx := context.Background()

	first, err := env.device.Command(ctx, CommandRequest{
		Command:             "on",
		PersistentRequestID: "morning-routine",
	})
	if err != nil {
		t.Fatalf("first command failed: %v", err)
	}
	second, err := env.device.Command(ctx, CommandRequest{
		Command:             "off",
		PersistentRequestID: "morning-routine",
	})
	if err != nil {
		t.Fatalf("second command failed: %v", err)
	}

	history := first.History()
	last := history[len(history)-1]
	if last.Status != StatusCanceled {
		t.Fatalf("final history status = %s, want canceled", last.Status)
	}
	if !last.At.Before(second.CreatedAt) {
		t.Errorf("cancellation at %v recorded after successor creation at %v",
			last.At, second.CreatedAt)
	}
}

func TestToggleMisspelledResolvesPair(t *testing.T) {
	// Catalogs that carry a literal toggle row must still treat a fuzzy
	// hit on it as the pseudo-command.
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.Catalog = commands.NewCatalog([]*commands.Command{
			{ID: "cmd-on", MachineLabel: "on", Label: "Turn On"},
			{ID: "cmd-off", MachineLabel: "off", Label: "Turn Off"},
			{ID: "cmd-toggle", MachineLabel: "toggle", Label: "Toggle"},
		}, 0.80)
	})
	ctx := context.Background()

	if _, err := env.device.Command(ctx, CommandRequest{Command: "on"}); err != nil {
		t.Fatalf("Command(on) failed: %v", err)
	}

	dc, err := env.device.Command(ctx, CommandRequest{Command: "togle"})
	if err != nil {
		t.Fatalf("Command(togle) failed: %v", err)
	}
	if dc.Command.MachineLabel != "off" {
		t.Errorf("misspelled toggle resolved %q, want off", dc.Command.MachineLabel)
	}

	// The exact spelling keeps working and flips the other way.
	dc, err = env.device.Command(ctx, CommandRequest{Command: "toggle"})
	if err != nil {
		t.Fatalf("Command(toggle) failed: %v", err)
	}
	if dc.Command.MachineLabel != "on" {
		t.Errorf("toggle resolved %q, want on", dc.Command.MachineLabel)
	}
}

func TestPersistentIndexFollowsRingEviction(t *testing.T) {
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.CommandRingSize = 2
	})
	ctx := context.Background()

	// Active (non-terminal) requests with distinct keys: the index may
	// only track what the ring still holds.
	for i := 0; i < 5; i++ {
		if _, err := env.device.Command(ctx, CommandRequest{
			Command:             "on",
			PersistentRequestID: fmt.Sprintf("intent-%d", i),
		}); err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
	}

	env.device.mu.Lock()
	persistent, requests := len(env.device.byPersistent), len(env.device.byRequestID)
	env.device.mu.Unlock()

	if persistent != 2 {
		t.Errorf("persistent index holds %d entries, want 2", persistent)
	}
	if requests != 2 {
		t.Errorf("request index holds %d entries, want 2", requests)
	}
}

func TestPersistentIndexClearedOnTerminal(t *testing.T) {
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.CommandRingSize = 2
	})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		dc, err := env.device.Command(ctx, CommandRequest{
			Command:             "on",
			PersistentRequestID: fmt.Sprintf("intent-%d", i),
		})
		if err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
		dc.SetFinished("done", "bridge")
	}

	env.device.mu.Lock()
	persistent, requests := len(env.device.byPersistent), len(env.device.byRequestID)
	env.device.mu.Unlock()

	if persistent != 0 {
		t.Errorf("persistent index holds %d entries after terminal transitions, want 0", persistent)
	}
	if requests != 2 {
		t.Errorf("request index holds %d entries, want 2", requests)
	}
	if got := len(env.device.RecentCommands()); got != 2 {
		t.Errorf("ring holds %d, want 2", got)
	}
}

func TestFirstAckAdvancesToReceived(t *testing.T) {
	env := newTestDevice(t, nil)

	env.bus.Subscribe("bridge", []events.Kind{events.KindCommandBroadcast},
		func(ctx context.Context, ev events.Event) events.Result {
			return events.Result{Ack: true}
		})

	dc, err := env.device.Command(context.Background(), CommandRequest{Command: "on"})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if dc.Status() != StatusReceived {
		t.Errorf("status = %s, want received after acknowledgement", dc.Status())
	}
}

func TestCommandRingEvictionFlushesUnpersisted(t *testing.T) {
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.CommandRingSize = 2
	})
	ctx := context.Background()

	first, err := env.device.Command(ctx, CommandRequest{Command: "on", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	_ = first
	if _, err := env.device.Command(ctx, CommandRequest{Command: "off", RequestID: "req-2"}); err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	before := env.flush.commandCount()
	if _, err := env.device.Command(ctx, CommandRequest{Command: "on", RequestID: "req-3"}); err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	if env.flush.commandCount() != before+1 {
		t.Errorf("eviction did not flush the displaced command")
	}
	if _, err := env.device.Request("req-1"); !errors.Is(err, ErrRequestNotFound) {
		t.Error("evicted request still tracked")
	}
	if got := len(env.device.RecentCommands()); got != 2 {
		t.Errorf("ring holds %d, want 2", got)
	}
}

func TestSetStatusNoOpLaw(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	first, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 1})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	second, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 1})
	if err != nil {
		t.Fatalf("duplicate SetStatus failed: %v", err)
	}

	if second != first {
		t.Error("duplicate update created a new snapshot")
	}
	if got := len(env.device.StatusHistory()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}

	// Force bypasses the rule.
	if _, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 1, Force: true}); err != nil {
		t.Fatalf("forced SetStatus failed: %v", err)
	}
	if got := len(env.device.StatusHistory()); got != 2 {
		t.Errorf("history length after force = %d, want 2", got)
	}
}

func TestSetStatusAuxMergeAllowList(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	if _, err := env.device.SetStatus(ctx, StatusUpdate{
		MachineStatus: 1,
		Aux:           map[string]any{"rssi": -60},
	}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	st, err := env.device.SetStatus(ctx, StatusUpdate{
		MachineStatus: 0.5,
		Aux:           map[string]any{"color_temp": 3000, "bogus": "x"},
	})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if st.Aux["rssi"] != -60 {
		t.Error("previous aux field lost in merge")
	}
	if st.Aux["color_temp"] != 3000 {
		t.Error("new allow-listed aux field missing")
	}
	if _, ok := st.Aux["bogus"]; ok {
		t.Error("field outside allow-list survived the merge")
	}
}

func TestSetStatusEnergyInterpolation(t *testing.T) {
	env := newTestDevice(t, func(rec *Record, _ *Deps) {
		rec.EnergyKind = platform.EnergyCalculated
		rec.EnergyMap = platform.NewEnergyMap(map[float64]float64{0.0: 0, 1.0: 100})
	})
	ctx := context.Background()

	st, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 0.5})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if st.EnergyUsage != 50 {
		t.Errorf("EnergyUsage = %v, want 50", st.EnergyUsage)
	}
	if st.EnergyUnit != "w" {
		t.Errorf("EnergyUnit = %q, want w", st.EnergyUnit)
	}

	// Outside every bracket is an error and appends nothing.
	if _, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 2}); !errors.Is(err, platform.ErrEnergyRange) {
		t.Fatalf("expected ErrEnergyRange, got %v", err)
	}
	if got := len(env.device.StatusHistory()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestSetStatusEnergyUnconfigured(t *testing.T) {
	env := newTestDevice(t, func(rec *Record, _ *Deps) {
		rec.PlatformID = "relay" // no energy
	})

	st, err := env.device.SetStatus(context.Background(), StatusUpdate{MachineStatus: 1})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if st.EnergyUsage != 0 {
		t.Errorf("EnergyUsage = %v, want 0", st.EnergyUsage)
	}
}

func TestSetStatusDerivesHumanStatus(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	tests := []struct {
		status     float64
		wantHuman  string
		wantInMesg string
	}{
		{0, "Off", ""},
		{0.4, "On", "40%"},
		{1, "On", ""},
	}

	for _, tt := range tests {
		st, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: tt.status})
		if err != nil {
			t.Fatalf("SetStatus(%v) failed: %v", tt.status, err)
		}
		if st.HumanStatus != tt.wantHuman {
			t.Errorf("HumanStatus(%v) = %q, want %q", tt.status, st.HumanStatus, tt.wantHuman)
		}
		if tt.wantInMesg != "" && !strings.Contains(st.HumanMessage, tt.wantInMesg) {
			t.Errorf("HumanMessage(%v) = %q, want mention of %q", tt.status, st.HumanMessage, tt.wantInMesg)
		}
	}
}

func TestSetStatusCausingCommand(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	dc, err := env.device.Command(ctx, CommandRequest{Command: "on", RequestID: "req-cause"})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	// Correlated by request id.
	st, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 1, RequestID: "req-cause"})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if st.CommandID != dc.Command.ID {
		t.Errorf("CommandID = %q, want %q", st.CommandID, dc.Command.ID)
	}
	if st.RequestID != "req-cause" {
		t.Errorf("RequestID = %q", st.RequestID)
	}

	// Inferred from the toggle pair when unattributed.
	st, err = env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 0})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if st.CommandID != "cmd-off" {
		t.Errorf("inferred CommandID = %q, want cmd-off", st.CommandID)
	}
}

func TestSetStatusPublishesChangeEvent(t *testing.T) {
	env := newTestDevice(t, nil)
	ctx := context.Background()

	var changes []*StatusChange
	env.bus.Subscribe("watcher", []events.Kind{events.KindDeviceStatusChanged},
		func(ctx context.Context, ev events.Event) events.Result {
			changes = append(changes, ev.Payload.(*StatusChange))
			return events.Result{}
		})

	if _, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 1}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: 0}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d change events, want 2", len(changes))
	}
	if changes[0].Previous != nil {
		t.Error("first change should have no previous snapshot")
	}
	if changes[1].Previous == nil || changes[1].Previous.MachineStatus != 1 {
		t.Error("second change lost the previous snapshot")
	}
	if changes[1].New.MachineStatus != 0 {
		t.Error("second change carries wrong new snapshot")
	}
}

func TestStatusRingBounded(t *testing.T) {
	env := newTestDevice(t, func(_ *Record, deps *Deps) {
		deps.StatusRingSize = 2
	})
	ctx := context.Background()

	for _, ms := range []float64{0.1, 0.2, 0.3} {
		if _, err := env.device.SetStatus(ctx, StatusUpdate{MachineStatus: ms}); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
	}

	history := env.device.StatusHistory()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].MachineStatus != 0.3 || history[1].MachineStatus != 0.2 {
		t.Errorf("history order wrong: %v, %v", history[0].MachineStatus, history[1].MachineStatus)
	}

	// Every snapshot was queued for persistence regardless of eviction.
	if env.flush.statusCount() != 3 {
		t.Errorf("flushed statuses = %d, want 3", env.flush.statusCount())
	}
}
