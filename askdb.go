// Package askdb provides an agent that answers natural-language analytics
// questions by orchestrating a decision-making model over SQL, full-text
// search, and chart-rendering tools.
package askdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb-ai/askdb/internal/eventbus"
)

// Agent is the main entry point into the askdb runtime. It owns the tool
// registry, the decider, and the per-request state machines.
type Agent struct {
	decider  Decider
	registry *Registry
	cache    Cache
	eventBus eventbus.Bus

	config Config

	// Async processing
	asyncExecutions      map[string]*RequestContext
	asyncExecutionsMutex sync.RWMutex
}

// Components holds references to the core components needed for state transitions.
type Components struct {
	Decider  Decider
	Registry *Registry
	Config   Config
}

// Config holds the configuration options for the askdb runtime.
type Config struct {
	// Planning rounds a single request may consume
	MaxRounds int

	// Decider failures and contract violations tolerated before degrading
	MaxPlannerRetries int

	// Maximum number of concurrent tool invocations per round
	MaxConcurrentDispatch int

	// Per-call timeouts
	PlannerTimeout time.Duration
	ToolTimeout    time.Duration

	// Answer caching of composed responses
	EnableAnswerCache bool

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:             5,
		MaxPlannerRetries:     1,
		MaxConcurrentDispatch: 4,
		PlannerTimeout:        time.Second * 60,
		ToolTimeout:           time.Second * 30,
		EnableAnswerCache:     false,
		EnableEventBus:        true,
		EventBusBufferSize:    100,
		EventBusWorkerCount:   5,
	}
}

// Option is a function that configures an Agent instance.
type Option func(*Agent)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(a *Agent) {
		a.config = config
	}
}

// WithDecider sets the decider component.
func WithDecider(decider Decider) Option {
	return func(a *Agent) {
		a.decider = decider
	}
}

// WithRegistry sets the tool registry.
func WithRegistry(registry *Registry) Option {
	return func(a *Agent) {
		a.registry = registry
	}
}

// WithCache sets the cache component.
func WithCache(cache Cache) Option {
	return func(a *Agent) {
		a.cache = cache
	}
}

// New creates a new Agent with the provided options. A decider and a
// non-empty registry are required.
func New(_ context.Context, options ...Option) (*Agent, error) {
	a := &Agent{
		config:          DefaultConfig(),
		registry:        NewRegistry(),
		asyncExecutions: make(map[string]*RequestContext),
	}

	for _, option := range options {
		option(a)
	}

	if a.decider == nil {
		return nil, NewConfigurationError("decider is required", nil)
	}
	if a.registry == nil || a.registry.Len() == 0 {
		return nil, NewConfigurationError("at least one registered tool is required", nil)
	}
	if a.config.EnableAnswerCache && a.cache == nil {
		return nil, NewConfigurationError("answer cache enabled but no cache provided", nil)
	}

	if a.config.EnableEventBus && a.eventBus == nil {
		a.eventBus = eventbus.NewChannelBus(
			eventbus.WithBufferSize(a.config.EventBusBufferSize),
			eventbus.WithWorkerCount(a.config.EventBusWorkerCount),
		)
	}

	return a, nil
}

// Registry exposes the tool registry, e.g. for health reporting.
func (a *Agent) Registry() *Registry { return a.registry }

// EventBus exposes the event bus so embedders can attach subscribers.
func (a *Agent) EventBus() eventbus.Bus { return a.eventBus }

// Close shuts down the agent's event bus.
func (a *Agent) Close() {
	if a.eventBus != nil {
		a.eventBus.Close()
	}
}

// Ask answers one query end to end through the state machine. A degraded
// answer is still a nil-error result; only validation and cancellation
// surface as errors.
func (a *Agent) Ask(ctx context.Context, query Query) (Response, error) {
	if query.Text == "" {
		return Response{}, NewValidationError("query text must not be empty", nil)
	}

	cacheKey := answerCacheKey(query)
	if a.config.EnableAnswerCache && a.cache != nil {
		if cached, err := a.cache.Get(ctx, cacheKey); err == nil {
			if resp, ok := decodeCachedResponse(cached); ok {
				publish(ctx, a.eventBus, eventbus.EventAnswerCacheHit, query.Text, "Agent.Ask", nil)
				return resp, nil
			}
		}
	}

	rCtx := NewRequestContext(uuid.NewString(), query)
	stateMachine := a.createStateMachine()

	answer, err := stateMachine.Execute(ctx, rCtx)
	if err != nil {
		return Response{}, err
	}

	resp := Compose(answer, rCtx.Transcript)

	if a.config.EnableAnswerCache && a.cache != nil && !answer.Degraded {
		_ = a.cache.Set(ctx, cacheKey, resp)
	}

	return resp, nil
}

// createStateMachine builds a state machine wired to the agent's components.
func (a *Agent) createStateMachine() *StateMachine {
	var eventBus eventbus.Bus
	if a.config.EnableEventBus {
		eventBus = a.eventBus
	}

	components := Components{
		Decider:  a.decider,
		Registry: a.registry,
		Config:   a.config,
	}

	return CreateRequestStateMachine(components, eventBus)
}

// decodeCachedResponse accepts both in-process values and values that went
// through a JSON persistence round trip.
func decodeCachedResponse(cached interface{}) (Response, bool) {
	switch v := cached.(type) {
	case Response:
		return v, true
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return Response{}, false
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil || resp.Response == "" {
			return Response{}, false
		}
		return resp, true
	default:
		return Response{}, false
	}
}

// answerCacheKey hashes the query text and variables so equivalent requests
// share a cache slot.
func answerCacheKey(q Query) string {
	h := sha256.New()
	h.Write([]byte(q.Text))
	names := make([]string, 0, len(q.Variables))
	for name := range q.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "|%s=%s", name, q.Variables[name])
	}
	return "answer:" + hex.EncodeToString(h.Sum(nil))
}
