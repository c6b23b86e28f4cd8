package askdb

// Registry maps tool names to their specs and adapters. It is populated at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	order   []string
	entries map[string]registration
}

type registration struct {
	spec ToolSpec
	tool Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a tool under its spec name. Registering an empty name is a
// validation error; registering a name twice is a duplicate-tool error.
func (r *Registry) Register(spec ToolSpec, tool Tool) error {
	if spec.Name == "" {
		return NewValidationError("tool spec must have a name", nil)
	}
	if tool == nil {
		return NewValidationError("tool adapter must not be nil", nil)
	}
	if _, exists := r.entries[spec.Name]; exists {
		return NewDuplicateToolError(spec.Name)
	}
	r.entries[spec.Name] = registration{spec: spec, tool: tool}
	r.order = append(r.order, spec.Name)
	return nil
}

// Lookup returns the spec and adapter for a name, or an unknown-tool error.
func (r *Registry) Lookup(name string) (ToolSpec, Tool, error) {
	reg, ok := r.entries[name]
	if !ok {
		return ToolSpec{}, nil, NewUnknownToolError(name)
	}
	return reg.spec, reg.tool, nil
}

// DescribeAll returns every registered spec in registration order. The
// decider is always shown this full set.
func (r *Registry) DescribeAll() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }
