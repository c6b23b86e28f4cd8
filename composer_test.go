package askdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose_EmptyAnswerFallsBack(t *testing.T) {
	resp := Compose(FinalAnswer{Text: "   "}, &Transcript{})
	assert.Equal(t, "I was unable to produce an answer for this query.", resp.Response)
	assert.Equal(t, "", resp.ToolsUsed)
}

func TestCompose_AppendsUnmentionedArtifacts(t *testing.T) {
	answer := FinalAnswer{
		Text: "Here is the breakdown.",
		Artifacts: []ArtifactRef{
			{URL: "/charts/a.png"},
			{Path: "/data/charts/b.png"}, // no URL, path used instead
		},
	}
	resp := Compose(answer, &Transcript{})
	assert.Contains(t, resp.Response, "Chart: /charts/a.png")
	assert.Contains(t, resp.Response, "Chart: /data/charts/b.png")
}

func TestCompose_MentionedArtifactNotDuplicated(t *testing.T) {
	answer := FinalAnswer{
		Text:      "See /charts/a.png for details.",
		Artifacts: []ArtifactRef{{URL: "/charts/a.png"}},
	}
	resp := Compose(answer, &Transcript{})
	assert.Equal(t, "See /charts/a.png for details.", resp.Response)
}

func TestCompose_ToolsUsedFirstUseOrder(t *testing.T) {
	transcript := &Transcript{}
	for _, name := range []string{ToolNameSearch, ToolNameExecuteSQL, ToolNameSearch, ToolNameGenerateChart} {
		transcript.Append(ToolResult{Invocation: ToolInvocation{ToolName: name}, Success: true, Dispatched: true})
	}

	resp := Compose(FinalAnswer{Text: "done"}, transcript)
	assert.Equal(t, "meilisearch_query, execute_sql_query, generate_chart", resp.ToolsUsed)
}

func TestCompose_NilTranscript(t *testing.T) {
	resp := Compose(FinalAnswer{Text: "done"}, nil)
	assert.Equal(t, "done", resp.Response)
	assert.Equal(t, "", resp.ToolsUsed)
}
