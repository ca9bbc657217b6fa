// Package events provides the typed event bus that connects the device
// engine's components.
//
// Every event carries a Kind from a closed set (command broadcasts,
// command status transitions, device status changes, registry lifecycle),
// and subscribers register for explicit kinds - there is no string-based
// topic matching. Delivery is synchronous and ordered: Publish runs every
// matching handler before returning and hands the per-subscriber results
// back to the publisher, which is how command broadcasts learn whether
// any subscriber acknowledged the command.
//
// Usage:
//
//	bus := events.NewBus()
//	bus.Subscribe("zwave-bridge", []events.Kind{events.KindCommandBroadcast},
//	    func(ctx context.Context, ev events.Event) events.Result {
//	        // handle the command...
//	        return events.Result{Ack: true}
//	    })
//	results := bus.Publish(ctx, events.Event{Kind: events.KindCommandBroadcast, ...})
package events
