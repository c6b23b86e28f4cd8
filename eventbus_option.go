package askdb

import "github.com/askdb-ai/askdb/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.Bus) Option {
	return func(a *Agent) {
		a.eventBus = bus
	}
}
