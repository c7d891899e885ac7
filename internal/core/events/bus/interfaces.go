package bus

import "time"

// EventBus is an in-process pub/sub bus.
//
// Delivery is synchronous, in the publisher's goroutine, and follows the
// order in which handlers subscribed. Handler errors are joined and returned
// from Publish. All methods are safe for concurrent use.
type EventBus interface {
	// Publish delivers the event to every subscriber of event.Type() and to
	// every wildcard subscriber.
	Publish(event Event) error
	// Subscribe registers a handler for one event type.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// SubscribeAll registers a handler for every event type.
	SubscribeAll(handler EventHandler) (Subscription, error)
	// Unsubscribe cancels sub. A nil sub is ignored.
	Unsubscribe(sub Subscription) error
}

// Event is an immutable notification.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked per delivered event.
	EventHandler func(event Event) error
)

// Subscription is a registered handler.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}
