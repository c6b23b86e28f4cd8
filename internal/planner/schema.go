package planner

import (
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/askdb-ai/askdb"
)

// buildInputSchema converts a tool spec into the JSON schema advertised to
// the model.
func buildInputSchema(spec askdb.ToolSpec) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string

	for _, arg := range spec.Arguments {
		prop := &jsonschema.Schema{
			Type:        string(arg.Type),
			Description: arg.Description,
		}
		if arg.Type == askdb.ArgTypeArray {
			// Rows and parameter lists carry heterogeneous values; the
			// adapters validate their shapes.
			prop.Items = &jsonschema.Schema{}
		}
		for _, val := range arg.Enum {
			prop.Enum = append(prop.Enum, val)
		}
		props.Set(arg.Name, prop)
		if arg.Required {
			required = append(required, arg.Name)
		}
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}
