package events

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind identifies one event type on the bus.
//
// Every publishable event has a Kind from this closed set; subscribers
// register for explicit kinds rather than string-matching topic names.
type Kind string

// Event kinds.
const (
	// KindCommandBroadcast announces a DeviceCommand ready for handling.
	// Subscribers that take responsibility for the command acknowledge it.
	KindCommandBroadcast Kind = "command.broadcast"

	// KindCommandStatusChanged carries every lifecycle transition of a
	// DeviceCommand after broadcast.
	KindCommandStatusChanged Kind = "command.status_changed"

	// KindDeviceStatusChanged carries a device's new and previous status
	// snapshots.
	KindDeviceStatusChanged Kind = "device.status_changed"

	// Device registry lifecycle events.
	KindDeviceCreated Kind = "device.created"
	KindDeviceUpdated Kind = "device.updated"
	KindDeviceDeleted Kind = "device.deleted"
)

// Event is one published occurrence.
//
// Payload holds the kind-specific payload struct (the publishing package
// owns its payload types; subscribers type-assert on Kind).
type Event struct {
	Kind     Kind
	DeviceID string
	At       time.Time
	Payload  any
}

// Result is one subscriber's response to a published event.
//
// Ack carries the acknowledgement semantics of the command broadcast:
// the engine treats any subscriber returning Ack=true as having taken
// responsibility for the command.
type Result struct {
	Ack bool
	Err error
}

// Handler processes one event and reports the subscriber's result.
//
// Handlers run synchronously on the publisher's goroutine; they must not
// block for extended periods.
type Handler func(ctx context.Context, ev Event) Result

// Logger is the minimal logging interface the bus needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// subscriber is one registered handler with its kind filter.
type subscriber struct {
	id      string
	kinds   map[Kind]struct{}
	handler Handler
}

// Bus is a typed publish/subscribe hub with explicit registration.
//
// Publish is synchronous: every matching subscriber runs before Publish
// returns, and the per-subscriber results are returned to the caller.
// This keeps the engine's cooperative discipline - all lifecycle work
// triggered by an event completes before the publisher proceeds.
//
// Thread Safety: all methods are safe for concurrent use. Handlers for
// one Publish call run sequentially in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	logger Logger
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{logger: noopLogger{}}
}

// SetLogger sets the logger used for handler panics and errors.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger != nil {
		b.logger = logger
	}
}

// Subscribe registers a handler for the given kinds.
//
// A subscriber id must be unique; re-subscribing with the same id
// replaces the previous registration (keeping its position in the
// dispatch order). An empty kinds slice subscribes to all kinds.
//
// Parameters:
//   - id: Unique subscriber identifier, reported in Publish results
//   - kinds: Event kinds to receive (nil/empty = all)
//   - handler: Callback invoked for each matching event
//
// Returns:
//   - error: If id is empty or handler is nil
func (b *Bus) Subscribe(id string, kinds []Kind, handler Handler) error {
	if id == "" {
		return fmt.Errorf("events: subscriber id is required")
	}
	if handler == nil {
		return fmt.Errorf("events: handler is required")
	}

	kindSet := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	sub := subscriber{id: id, kinds: kindSet, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.subs {
		if b.subs[i].id == id {
			b.subs[i] = sub
			return nil
		}
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Unsubscribe removes a subscriber. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.subs {
		if b.subs[i].id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every matching subscriber and returns
// their results keyed by subscriber id.
//
// Handler panics are recovered, logged, and reported as that
// subscriber's Err; one misbehaving subscriber never prevents delivery
// to the rest.
//
// Parameters:
//   - ctx: Context passed through to handlers
//   - ev: The event to deliver (At defaults to now if zero)
//
// Returns:
//   - map[string]Result: Per-subscriber results (empty if no subscribers matched)
func (b *Bus) Publish(ctx context.Context, ev Event) map[string]Result {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	logger := b.logger
	b.mu.RUnlock()

	results := make(map[string]Result)
	for _, sub := range subs {
		if len(sub.kinds) > 0 {
			if _, ok := sub.kinds[ev.Kind]; !ok {
				continue
			}
		}
		results[sub.id] = b.invoke(ctx, logger, sub, ev)
	}

	return results
}

// invoke runs one handler with panic recovery.
func (b *Bus) invoke(ctx context.Context, logger Logger, sub subscriber, ev Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic recovered",
				"subscriber", sub.id,
				"kind", string(ev.Kind),
				"panic", r,
			)
			res = Result{Err: fmt.Errorf("events: handler panic: %v", r)}
		}
	}()

	res = sub.handler(ctx, ev)
	if res.Err != nil {
		logger.Warn("event handler returned error",
			"subscriber", sub.id,
			"kind", string(ev.Kind),
			"error", res.Err,
		)
	}
	return res
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
