package askdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchSpec() ToolSpec {
	return ToolSpec{
		Name: ToolNameSearch,
		Arguments: []ArgumentSpec{
			{Name: "index_name", Type: ArgTypeString, Required: true, Enum: []string{"products", "users"}},
			{Name: "query", Type: ArgTypeString, Required: true},
			{Name: "limit", Type: ArgTypeInteger},
			{Name: "data", Type: ArgTypeArray},
		},
	}
}

func TestValidateArguments_OK(t *testing.T) {
	err := searchSpec().ValidateArguments(map[string]interface{}{
		"index_name": "products",
		"query":      "laptop",
		"limit":      float64(5), // JSON numbers decode as float64
	})
	assert.NoError(t, err)
}

func TestValidateArguments_MissingRequired(t *testing.T) {
	err := searchSpec().ValidateArguments(map[string]interface{}{"index_name": "products"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestValidateArguments_UnknownArgument(t *testing.T) {
	err := searchSpec().ValidateArguments(map[string]interface{}{
		"index_name": "products",
		"query":      "laptop",
		"sort_by":    "price",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sort_by")
}

func TestValidateArguments_EnumViolation(t *testing.T) {
	err := searchSpec().ValidateArguments(map[string]interface{}{
		"index_name": "orders",
		"query":      "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders")
}

func TestValidateArguments_TypeChecks(t *testing.T) {
	spec := searchSpec()

	err := spec.ValidateArguments(map[string]interface{}{
		"index_name": "products",
		"query":      42,
	})
	assert.Error(t, err, "query must be a string")

	err = spec.ValidateArguments(map[string]interface{}{
		"index_name": "products",
		"query":      "x",
		"limit":      float64(2.5),
	})
	assert.Error(t, err, "limit must be integral")

	err = spec.ValidateArguments(map[string]interface{}{
		"index_name": "products",
		"query":      "x",
		"data":       "not an array",
	})
	assert.Error(t, err, "data must be an array")
}

func TestTranscript_ToolsUsedAndLastTable(t *testing.T) {
	tr := &Transcript{}
	assert.Empty(t, tr.ToolsUsed())
	assert.Nil(t, tr.LastTable())

	first := &TableResult{Columns: []string{"a"}}
	second := &TableResult{Columns: []string{"b"}}
	tr.Append(ToolResult{Invocation: ToolInvocation{ToolName: ToolNameExecuteSQL}, Success: true, Dispatched: true, Payload: ResultPayload{Table: first}})
	tr.Append(ToolResult{Invocation: ToolInvocation{ToolName: ToolNameSearch}, Dispatched: true, Diagnostic: "down"})
	tr.Append(ToolResult{Invocation: ToolInvocation{ToolName: ToolNameExecuteSQL}, Success: true, Dispatched: true, Payload: ResultPayload{Table: second}})
	// A later failed SQL call must not shadow the last successful table.
	tr.Append(ToolResult{Invocation: ToolInvocation{ToolName: ToolNameExecuteSQL}, Dispatched: true, Diagnostic: "syntax error"})
	// Rejected before dispatch: the name never counts as used.
	tr.Append(ToolResult{Invocation: ToolInvocation{ToolName: "made_up_tool"}, Diagnostic: "tool 'made_up_tool' is not registered"})

	assert.Equal(t, []string{ToolNameExecuteSQL, ToolNameSearch}, tr.ToolsUsed())
	assert.Equal(t, second, tr.LastTable())
}

func TestTranscript_Artifacts(t *testing.T) {
	tr := &Transcript{}
	tr.Append(ToolResult{
		Invocation: ToolInvocation{ToolName: ToolNameGenerateChart},
		Success:    true,
		Payload:    ResultPayload{Artifact: &ArtifactRef{URL: "/charts/a.png"}},
	})
	tr.Append(ToolResult{
		Invocation: ToolInvocation{ToolName: ToolNameGenerateChart},
		Diagnostic: "render failed",
	})

	refs := tr.Artifacts()
	require.Len(t, refs, 1)
	assert.Equal(t, "/charts/a.png", refs[0].URL)
}
