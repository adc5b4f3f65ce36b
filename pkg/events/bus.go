package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gookitEvent "github.com/gookit/event"

	applogger "github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const (
	payloadKey = "payload"
	ctxKey     = "ctx"
)

type subscription struct {
	id        uint64
	eventType string
	active    atomic.Bool
}

// gookitEventBus implements EventBus using gookit/event as the underlying implementation
type gookitEventBus struct {
	manager   *gookitEvent.Manager
	config    EventBusConfig
	logger    *applogger.Logger
	subs      map[uint64]*subscription
	nextID    uint64
	mu        sync.RWMutex
	lastError string
	closed    bool
}

// NewGookitEventBus creates a new event bus using gookit/event
func NewGookitEventBus(config EventBusConfig, logger *applogger.Logger) EventBus {
	if config.Name == "" {
		config.Name = DefaultEventBusConfig().Name
	}
	logger.Debug("creating event bus", slog.String("name", config.Name))

	return &gookitEventBus{
		manager: gookitEvent.NewManager(config.Name),
		config:  config,
		logger:  logger,
		subs:    make(map[uint64]*subscription),
	}
}

// Publish publishes an event to the bus
func (b *gookitEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.RUnlock()

	b.logger.DebugContext(ctx,
		"publishing event",
		slog.String("type", event.Type()),
		slog.String("id", event.ID()))

	err, _ := b.manager.Fire(event.Type(), gookitEvent.M{payloadKey: event, ctxKey: ctx})
	if err != nil {
		b.mu.Lock()
		b.lastError = err.Error()
		b.mu.Unlock()

		b.logger.ErrorCtx(ctx, "event handler failed", err,
			slog.String("type", event.Type()),
			slog.String("id", event.ID()))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers a handler for events of a specific type
func (b *gookitEventBus) Subscribe(eventType string, handler EventHandler) (UnsubscribeFunc, error) {
	return b.SubscribeWithPriority(eventType, handler, PriorityNormal)
}

// SubscribeWithPriority registers a handler with a specific priority
func (b *gookitEventBus) SubscribeWithPriority(eventType string, handler EventHandler, priority Priority) (UnsubscribeFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	gookitPriority := gookitEvent.Normal
	switch priority {
	case PriorityHigh:
		gookitPriority = gookitEvent.High
	case PriorityLow:
		gookitPriority = gookitEvent.Low
	}

	b.nextID++
	sub := &subscription{id: b.nextID, eventType: eventType}
	sub.active.Store(true)

	// gookit keeps the listener registered; an inactive subscription simply ignores events.
	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		if !sub.active.Load() {
			return nil
		}
		ourEvent, ok := e.Get(payloadKey).(Event)
		if !ok {
			return fmt.Errorf("invalid event payload received: %T", e.Get(payloadKey))
		}
		ctx, ok := e.Get(ctxKey).(context.Context)
		if !ok || ctx == nil {
			ctx = context.Background()
		}
		return handler(ctx, ourEvent)
	})

	b.manager.On(eventType, listener, gookitPriority)
	b.subs[sub.id] = sub

	b.logger.Debug("subscribed to event type",
		slog.String("type", eventType),
		slog.Int("priority", int(priority)))

	return func() error {
		b.unsubscribe(sub)
		return nil
	}, nil
}

func (b *gookitEventBus) unsubscribe(sub *subscription) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	b.logger.Debug("unsubscribed from event type", slog.String("type", sub.eventType))
}

// Close gracefully shuts down the event bus
func (b *gookitEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for _, sub := range b.subs {
		sub.active.Store(false)
	}
	b.subs = make(map[uint64]*subscription)
	b.manager.Clear()
	b.closed = true

	b.logger.Debug("event bus closed", slog.String("name", b.config.Name))
	return nil
}

// Health returns the health status of the event bus
func (b *gookitEventBus) Health() Health {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := "healthy"
	message := "Event bus is operating normally"

	if b.closed {
		status = "unhealthy"
		message = "Event bus is closed"
	} else if b.lastError != "" {
		status = "degraded"
		message = "Event bus has recent errors"
	}

	return Health{
		Status:      status,
		Message:     message,
		Subscribers: len(b.subs),
		LastError:   b.lastError,
	}
}

// BaseEvent provides a common implementation of the Event interface
type BaseEvent struct {
	id        string
	eventType string
	timestamp time.Time
	metadata  map[string]interface{}
}

// NewBaseEvent creates a new base event
func NewBaseEvent(eventType string, metadata map[string]interface{}) *BaseEvent {
	return &BaseEvent{
		id:        uuid.New().String(),
		eventType: eventType,
		timestamp: time.Now(),
		metadata:  metadata,
	}
}

func (e *BaseEvent) Type() string         { return e.eventType }
func (e *BaseEvent) Timestamp() time.Time { return e.timestamp }
func (e *BaseEvent) ID() string           { return e.id }

// Metadata returns the event metadata
func (e *BaseEvent) Metadata() map[string]interface{} {
	if e.metadata == nil {
		return make(map[string]interface{})
	}
	return e.metadata
}
