package askdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveArguments_Identifier(t *testing.T) {
	vars := map[string]string{"city": "Lisbon"}

	args, err := resolveArguments(map[string]interface{}{"query": "${city}"}, vars)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", args["query"])
}

func TestResolveArguments_EmbeddedPlaceholder(t *testing.T) {
	vars := map[string]string{"city": "Lisbon", "field": "location"}

	args, err := resolveArguments(map[string]interface{}{
		"filters": `${field} = "${city}"`,
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, `location = "Lisbon"`, args["filters"])
}

func TestResolveArguments_Expression(t *testing.T) {
	vars := map[string]string{"first": "Ada", "last": "Lovelace"}

	args, err := resolveArguments(map[string]interface{}{
		"query": "${first + ' ' + last}",
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", args["query"])
}

func TestResolveArguments_NestedStructures(t *testing.T) {
	vars := map[string]string{"label": "Total"}

	args, err := resolveArguments(map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"name": "${label}", "value": 5},
		},
		"limit": 3,
	}, vars)
	require.NoError(t, err)

	rows := args["data"].([]interface{})
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "Total", row["name"])
	assert.Equal(t, 5, row["value"])
	assert.Equal(t, 3, args["limit"])
}

func TestResolveArguments_UnknownVariable(t *testing.T) {
	_, err := resolveArguments(map[string]interface{}{"query": "${missing}"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestResolveArguments_NoPlaceholders(t *testing.T) {
	in := map[string]interface{}{"sql_query": "SELECT 1"}
	out, err := resolveArguments(in, map[string]string{"unused": "x"})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
