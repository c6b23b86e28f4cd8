package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Request lifecycle events
	EventRequestStarted EventType = "request_started"
	EventRequestSuccess EventType = "request_success"
	EventRequestFailure EventType = "request_failure"

	// Planning events
	EventPlanningStarted   EventType = "planning_started"
	EventPlanningRetry     EventType = "planning_retry"
	EventPlanningFailure   EventType = "planning_failure"
	EventDecisionToolCalls EventType = "decision_tool_calls"
	EventDecisionFinal     EventType = "decision_final"

	// Budget events
	EventRoundBudgetExhausted EventType = "round_budget_exhausted"

	// Dispatch events
	EventDispatchStarted       EventType = "dispatch_started"
	EventDispatchCompleted     EventType = "dispatch_completed"
	EventToolInvocationStarted EventType = "tool_invocation_started"
	EventToolInvocationSuccess EventType = "tool_invocation_success"
	EventToolInvocationFailure EventType = "tool_invocation_failure"

	// Answer cache events
	EventAnswerCacheHit  EventType = "answer_cache_hit"
	EventAnswerCacheMiss EventType = "answer_cache_miss"

	// Async request events
	EventAsyncRequestStarted   EventType = "async_request_started"
	EventAsyncRequestSuccess   EventType = "async_request_success"
	EventAsyncRequestFailure   EventType = "async_request_failure"
	EventAsyncRequestCancelled EventType = "async_request_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
	EventSystemInfo    EventType = "system_info"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// Bus is the central event dispatch system
type Bus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types.
	// Returns a subscription ID that can be used to unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types.
	// Returns a subscription ID that can be used to unsubscribe.
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// Type returns the event type
func (e *BaseEvent) Type() EventType {
	return e.eventType
}

// Payload returns the event data
func (e *BaseEvent) Payload() interface{} {
	return e.payload
}

// Metadata returns additional information about the event
func (e *BaseEvent) Metadata() map[string]interface{} {
	return e.metadata
}

// Timestamp returns when the event occurred
func (e *BaseEvent) Timestamp() int64 {
	return e.timestamp
}

// Source returns information about what generated the event
func (e *BaseEvent) Source() string {
	return e.sourceInfo
}

// WithMetadata adds or updates one metadata entry and returns the same event.
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// AddMetadata adds multiple metadata entries at once and returns the same event.
func (e *BaseEvent) AddMetadata(data map[string]interface{}) *BaseEvent {
	for k, v := range data {
		e.metadata[k] = v
	}
	return e
}
