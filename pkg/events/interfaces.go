package events

import (
	"context"
	"fmt"
	"time"
)

// Event represents a generic event in the system
type Event interface {
	// Type returns the event type identifier (e.g., "tunnel.state_changed")
	Type() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// Metadata returns additional context-specific data
	Metadata() map[string]interface{}
	// ID returns a unique identifier for this event
	ID() string
}

// EventHandler processes events of a specific type
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides a generic interface for publishing and subscribing to events
type EventBus interface {
	// Publish delivers event synchronously to every current subscriber
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for events of a specific type
	Subscribe(eventType string, handler EventHandler) (UnsubscribeFunc, error)

	// SubscribeWithPriority registers a handler with a specific priority.
	// Higher priority handlers are called first.
	SubscribeWithPriority(eventType string, handler EventHandler, priority Priority) (UnsubscribeFunc, error)

	// Close drops all subscribers and rejects further use
	Close() error

	// Health returns the health status of the event bus
	Health() Health
}

// UnsubscribeFunc removes a single subscription. Calling it twice is harmless.
type UnsubscribeFunc func() error

// Priority defines event handler execution priority
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Health represents the health status of an event bus
type Health struct {
	Status      string `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string `json:"message"`
	Subscribers int    `json:"subscribers"`
	LastError   string `json:"last_error"`
}

// EventBusConfig defines configuration for event bus implementations
type EventBusConfig struct {
	// Name identifies the underlying manager in logs
	Name string `json:"name" mapstructure:"name"`
}

// DefaultEventBusConfig returns a default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{Name: "erebrus-connector"}
}

// CreateTypedHandler adapts a handler for a concrete event type.
func CreateTypedHandler[T Event](handler func(ctx context.Context, event T) error) EventHandler {
	return func(ctx context.Context, event Event) error {
		typedEvent, ok := event.(T)
		if !ok {
			var zero T
			return fmt.Errorf("invalid event type: expected %T, got %T", zero, event)
		}
		return handler(ctx, typedEvent)
	}
}
