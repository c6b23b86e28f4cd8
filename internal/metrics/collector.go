// Package metrics turns event bus traffic into Prometheus metrics. The
// collector is a passive subscriber: the orchestration loop never talks to
// Prometheus directly.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/askdb-ai/askdb/internal/eventbus"
)

// Collector subscribes to the event bus and updates Prometheus metrics.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	planningRounds  prometheus.Histogram
	plannerRetries  prometheus.Counter
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	cacheHits       prometheus.Counter

	subscriptionID string

	// request start times keyed by request_id, pruned on completion
	mu     sync.Mutex
	starts map[string]time.Time
}

// NewCollector creates and registers the collector's metrics with the
// provided registerer. Pass prometheus.DefaultRegisterer to expose them on
// the default /metrics handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askdb_requests_total",
			Help: "Completed query requests by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "askdb_request_duration_seconds",
			Help:    "End to end query latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		planningRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "askdb_planning_rounds",
			Help:    "Planning rounds consumed per request.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		plannerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askdb_planner_retries_total",
			Help: "Decider failures and contract violations retried.",
		}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askdb_tool_invocations_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "askdb_tool_duration_seconds",
			Help:    "Tool invocation latency by tool.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askdb_answer_cache_hits_total",
			Help: "Responses served from the answer cache.",
		}),
		starts: make(map[string]time.Time),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.planningRounds,
		c.plannerRetries,
		c.toolInvocations,
		c.toolDuration,
		c.cacheHits,
	)
	return c
}

// Attach subscribes the collector to the bus.
func (c *Collector) Attach(bus eventbus.Bus) error {
	id, err := bus.Subscribe([]eventbus.EventType{
		eventbus.EventRequestStarted,
		eventbus.EventRequestSuccess,
		eventbus.EventRequestFailure,
		eventbus.EventPlanningRetry,
		eventbus.EventToolInvocationSuccess,
		eventbus.EventToolInvocationFailure,
		eventbus.EventAnswerCacheHit,
	}, c.handle)
	if err != nil {
		return err
	}
	c.subscriptionID = id
	return nil
}

// Detach removes the subscription.
func (c *Collector) Detach(bus eventbus.Bus) error {
	if c.subscriptionID == "" {
		return nil
	}
	return bus.Unsubscribe(c.subscriptionID)
}

func (c *Collector) handle(_ context.Context, event eventbus.Event) error {
	meta := event.Metadata()

	switch event.Type() {
	case eventbus.EventRequestStarted:
		if id, ok := meta["request_id"].(string); ok {
			c.mu.Lock()
			c.starts[id] = time.Now()
			c.mu.Unlock()
		}
	case eventbus.EventRequestSuccess:
		c.finishRequest(meta, "success")
	case eventbus.EventRequestFailure:
		c.finishRequest(meta, "degraded")
	case eventbus.EventPlanningRetry:
		c.plannerRetries.Inc()
	case eventbus.EventToolInvocationSuccess:
		c.observeTool(event, "success")
	case eventbus.EventToolInvocationFailure:
		c.observeTool(event, "failure")
	case eventbus.EventAnswerCacheHit:
		c.cacheHits.Inc()
	}
	return nil
}

func (c *Collector) finishRequest(meta map[string]interface{}, outcome string) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
	if rounds, ok := asFloat(meta["rounds"]); ok {
		c.planningRounds.Observe(rounds)
	}
	if id, ok := meta["request_id"].(string); ok {
		c.mu.Lock()
		start, known := c.starts[id]
		delete(c.starts, id)
		c.mu.Unlock()
		if known {
			c.requestDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (c *Collector) observeTool(event eventbus.Event, outcome string) {
	tool, _ := event.Payload().(string)
	if tool == "" {
		tool = "unknown"
	}
	c.toolInvocations.WithLabelValues(tool, outcome).Inc()
	if ms, ok := asFloat(event.Metadata()["duration_ms"]); ok {
		c.toolDuration.WithLabelValues(tool).Observe(ms / 1000)
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
