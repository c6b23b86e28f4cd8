// Package eventbus provides the lifecycle event dispatch system used by the
// orchestration loop and its observers (logging, metrics).
package eventbus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelBus is a Bus implementation backed by a buffered channel and a
// fixed worker pool. Publishing never blocks handler execution; handlers
// run on the workers with bounded retries.
type ChannelBus struct {
	// subscribers maps event types to subscription IDs to handlers
	subscribers map[EventType]map[string]EventHandler

	// allSubscribers receive every event regardless of type
	allSubscribers map[string]EventHandler

	events chan queuedEvent
	done   chan struct{}
	closed bool

	wg    sync.WaitGroup
	mutex sync.RWMutex

	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
}

// queuedEvent bundles an event with the context it was published under.
type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ChannelBusOption configures the channel-based event bus
type ChannelBusOption func(*ChannelBus)

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) ChannelBusOption {
	return func(b *ChannelBus) {
		b.bufferSize = size
	}
}

// WithWorkerCount sets the number of event processing workers
func WithWorkerCount(count int) ChannelBusOption {
	return func(b *ChannelBus) {
		b.workerCount = count
	}
}

// WithRetries configures the retry behavior for event handlers
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelBusOption {
	return func(b *ChannelBus) {
		b.maxRetries = maxRetries
		b.retryInterval = retryInterval
	}
}

// NewChannelBus creates a new channel-based event bus and starts its workers.
func NewChannelBus(options ...ChannelBusOption) *ChannelBus {
	b := &ChannelBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		done:           make(chan struct{}),

		bufferSize:    100,
		workerCount:   5,
		maxRetries:    3,
		retryInterval: time.Millisecond * 100,
	}

	for _, option := range options {
		option(b)
	}

	b.events = make(chan queuedEvent, b.bufferSize)

	for i := 0; i < b.workerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

func (b *ChannelBus) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case evt := <-b.events:
			b.dispatch(evt)
		}
	}
}

// dispatch fans one event out to every relevant handler. Handlers run
// against a snapshot of the subscriber maps so they may subscribe or
// unsubscribe without deadlocking.
func (b *ChannelBus) dispatch(evt queuedEvent) {
	if evt.ctx.Err() != nil {
		return
	}

	b.mutex.RLock()
	handlers := make([]EventHandler, 0, len(b.allSubscribers))
	for _, handler := range b.subscribers[evt.event.Type()] {
		handlers = append(handlers, handler)
	}
	for _, handler := range b.allSubscribers {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	for _, handler := range handlers {
		b.runHandler(evt.ctx, evt.event, handler)
	}
}

// runHandler executes one handler with bounded retries. Handler failures
// never stop other handlers.
func (b *ChannelBus) runHandler(ctx context.Context, event Event, handler EventHandler) {
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err = handler(ctx, event); err == nil {
			return
		}
		if attempt == b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retryInterval):
		}
	}
	fmt.Fprintf(os.Stderr, "event handler error (event_type: %s, retries: %d): %v\n",
		event.Type(), b.maxRetries, err)
}

// Publish sends an event to all subscribed handlers.
func (b *ChannelBus) Publish(ctx context.Context, event Event) error {
	b.mutex.RLock()
	closed := b.closed
	b.mutex.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	// Buffered events still respect cancellation of the publishing context.
	childCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-b.done:
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case b.events <- queuedEvent{ctx: childCtx, event: event}:
		return nil
	}
}

// Subscribe registers a handler for specific event types.
func (b *ChannelBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	subscriptionID := uuid.NewString()
	for _, eventType := range eventTypes {
		if _, exists := b.subscribers[eventType]; !exists {
			b.subscribers[eventType] = make(map[string]EventHandler)
		}
		b.subscribers[eventType][subscriptionID] = handler
	}

	return subscriptionID, nil
}

// SubscribeAll registers a handler for all event types.
func (b *ChannelBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	subscriptionID := uuid.NewString()
	b.allSubscribers[subscriptionID] = handler

	return subscriptionID, nil
}

// Unsubscribe removes a subscription by ID.
func (b *ChannelBus) Unsubscribe(subscriptionID string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	delete(b.allSubscribers, subscriptionID)
	for eventType, subscribers := range b.subscribers {
		delete(subscribers, subscriptionID)
		if len(subscribers) == 0 {
			delete(b.subscribers, eventType)
		}
	}

	return nil
}

// Close shuts down the event bus, cleaning up resources.
func (b *ChannelBus) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	b.mutex.Unlock()

	close(b.done)
	b.wg.Wait()
	close(b.events)

	return nil
}
