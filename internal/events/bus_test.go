package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubscribeValidation(t *testing.T) {
	bus := NewBus()

	if err := bus.Subscribe("", nil, func(context.Context, Event) Result { return Result{} }); err == nil {
		t.Error("expected error for empty id")
	}
	if err := bus.Subscribe("sub", nil, nil); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := bus.Subscribe("sub", nil, func(context.Context, Event) Result { return Result{} }); err != nil {
		t.Errorf("valid subscribe failed: %v", err)
	}
}

func TestPublishFiltersByKind(t *testing.T) {
	bus := NewBus()

	var broadcastSeen, statusSeen int
	bus.Subscribe("broadcast-only", []Kind{KindCommandBroadcast},
		func(ctx context.Context, ev Event) Result {
			broadcastSeen++
			return Result{Ack: true}
		})
	bus.Subscribe("status-only", []Kind{KindDeviceStatusChanged},
		func(ctx context.Context, ev Event) Result {
			statusSeen++
			return Result{}
		})

	results := bus.Publish(context.Background(), Event{Kind: KindCommandBroadcast, DeviceID: "dev1"})

	if broadcastSeen != 1 || statusSeen != 0 {
		t.Errorf("broadcastSeen=%d statusSeen=%d, want 1/0", broadcastSeen, statusSeen)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results["broadcast-only"].Ack {
		t.Error("expected Ack from broadcast-only subscriber")
	}
}

func TestPublishEmptyKindsReceivesAll(t *testing.T) {
	bus := NewBus()

	var seen []Kind
	bus.Subscribe("firehose", nil, func(ctx context.Context, ev Event) Result {
		seen = append(seen, ev.Kind)
		return Result{}
	})

	bus.Publish(context.Background(), Event{Kind: KindDeviceCreated})
	bus.Publish(context.Background(), Event{Kind: KindCommandStatusChanged})

	if len(seen) != 2 {
		t.Fatalf("got %d events, want 2", len(seen))
	}
	if seen[0] != KindDeviceCreated || seen[1] != KindCommandStatusChanged {
		t.Errorf("kinds = %v", seen)
	}
}

func TestPublishRecoverPanic(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("panicky", nil, func(ctx context.Context, ev Event) Result {
		panic("boom")
	})

	var healthyCalled bool
	bus.Subscribe("healthy", nil, func(ctx context.Context, ev Event) Result {
		healthyCalled = true
		return Result{Ack: true}
	})

	results := bus.Publish(context.Background(), Event{Kind: KindCommandBroadcast})

	if results["panicky"].Err == nil {
		t.Error("expected error result from panicking subscriber")
	}
	if !healthyCalled {
		t.Error("panic in one subscriber prevented delivery to the next")
	}
	if !results["healthy"].Ack {
		t.Error("expected Ack from healthy subscriber")
	}
}

func TestResubscribeReplaces(t *testing.T) {
	bus := NewBus()

	var first, second int
	bus.Subscribe("sub", nil, func(ctx context.Context, ev Event) Result {
		first++
		return Result{}
	})
	bus.Subscribe("sub", nil, func(ctx context.Context, ev Event) Result {
		second++
		return Result{}
	})

	bus.Publish(context.Background(), Event{Kind: KindDeviceUpdated})

	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0/1", first, second)
	}
	if bus.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", bus.SubscriberCount())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	var called bool
	bus.Subscribe("sub", nil, func(ctx context.Context, ev Event) Result {
		called = true
		return Result{}
	})
	bus.Unsubscribe("sub")
	bus.Unsubscribe("never-existed")

	results := bus.Publish(context.Background(), Event{Kind: KindDeviceDeleted})

	if called {
		t.Error("handler called after Unsubscribe")
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestPublishDefaultsTimestamp(t *testing.T) {
	bus := NewBus()

	var got time.Time
	bus.Subscribe("sub", nil, func(ctx context.Context, ev Event) Result {
		got = ev.At
		return Result{}
	})

	before := time.Now().UTC()
	bus.Publish(context.Background(), Event{Kind: KindDeviceCreated})

	if got.Before(before) || time.Since(got) > time.Minute {
		t.Errorf("event At = %v, expected near %v", got, before)
	}
}

func TestHandlerErrorReported(t *testing.T) {
	bus := NewBus()

	wantErr := errors.New("handler failed")
	bus.Subscribe("sub", nil, func(ctx context.Context, ev Event) Result {
		return Result{Err: wantErr}
	})

	results := bus.Publish(context.Background(), Event{Kind: KindCommandStatusChanged})

	if !errors.Is(results["sub"].Err, wantErr) {
		t.Errorf("result err = %v, want %v", results["sub"].Err, wantErr)
	}
}
