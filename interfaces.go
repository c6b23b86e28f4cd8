package askdb

import "context"

// Decider chooses the next step for a request: invoke tools or answer.
// It sees the query, the full transcript so far, and the specs of every
// registered tool, and returns exactly one Decision per planning round.
type Decider interface {
	Decide(ctx context.Context, query Query, transcript *Transcript, specs []ToolSpec) (Decision, error)
}

// Tool is an executable adapter behind a ToolSpec.
type Tool interface {
	// Invoke performs the tool's action with schema-validated arguments and
	// returns a typed payload. Backend failures come back as coded errors;
	// the adapter never panics and never leaks raw driver errors.
	Invoke(ctx context.Context, args map[string]interface{}) (ResultPayload, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (ResultPayload, error)

// Invoke implements Tool.
func (f ToolFunc) Invoke(ctx context.Context, args map[string]interface{}) (ResultPayload, error) {
	return f(ctx, args)
}

// Cache provides storage for composed responses and other reusable values.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
