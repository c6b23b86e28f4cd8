package askdb

import (
	"fmt"
	"time"
)

// Well-known tool names. The orchestration loop treats tools generically
// except for the chart data repair, which keys off ToolNameGenerateChart.
const (
	ToolNameExecuteSQL    = "execute_sql_query"
	ToolNameSearch        = "meilisearch_query"
	ToolNameGenerateChart = "generate_chart"
)

// Query is a single natural-language request, optionally carrying named
// variables that tool arguments may reference as ${name}.
type Query struct {
	Text      string            `json:"query"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ArgumentType enumerates the JSON types a tool argument may declare.
type ArgumentType string

const (
	ArgTypeString  ArgumentType = "string"
	ArgTypeNumber  ArgumentType = "number"
	ArgTypeInteger ArgumentType = "integer"
	ArgTypeBoolean ArgumentType = "boolean"
	ArgTypeArray   ArgumentType = "array"
	ArgTypeObject  ArgumentType = "object"
)

// ArgumentSpec describes one argument of a tool.
type ArgumentSpec struct {
	Name        string
	Type        ArgumentType
	Description string
	Required    bool
	// Enum restricts string arguments to a fixed set of values.
	Enum []string
}

// ToolSpec is the declarative description of a tool: its name, what it does,
// and the arguments it accepts. The decider sees exactly this; the registry
// pairs it with the executable adapter.
type ToolSpec struct {
	Name        string
	Description string
	Arguments   []ArgumentSpec
}

// ValidateArguments checks args against the spec: required arguments present,
// declared types respected, enum values honored. Unknown arguments are
// rejected so a hallucinated argument surfaces before dispatch.
func (s ToolSpec) ValidateArguments(args map[string]interface{}) error {
	byName := make(map[string]ArgumentSpec, len(s.Arguments))
	for _, a := range s.Arguments {
		byName[a.Name] = a
	}
	for name := range args {
		if _, ok := byName[name]; !ok {
			return NewValidationError(fmt.Sprintf("tool '%s' does not accept argument '%s'", s.Name, name), nil)
		}
	}
	for _, a := range s.Arguments {
		val, present := args[a.Name]
		if !present {
			if a.Required {
				return NewValidationError(fmt.Sprintf("tool '%s' missing required argument '%s'", s.Name, a.Name), nil)
			}
			continue
		}
		if err := checkArgumentType(a, val); err != nil {
			return err
		}
	}
	return nil
}

func checkArgumentType(spec ArgumentSpec, val interface{}) error {
	if val == nil {
		if spec.Required {
			return NewValidationError(fmt.Sprintf("argument '%s' must not be null", spec.Name), nil)
		}
		return nil
	}
	ok := true
	switch spec.Type {
	case ArgTypeString:
		var s string
		s, ok = val.(string)
		if ok && len(spec.Enum) > 0 {
			ok = false
			for _, allowed := range spec.Enum {
				if s == allowed {
					ok = true
					break
				}
			}
			if !ok {
				return NewValidationError(fmt.Sprintf("argument '%s' must be one of %v, got %q", spec.Name, spec.Enum, s), nil)
			}
		}
	case ArgTypeNumber:
		switch val.(type) {
		case float64, float32, int, int32, int64:
		default:
			ok = false
		}
	case ArgTypeInteger:
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			ok = v == float64(int64(v))
		default:
			ok = false
		}
	case ArgTypeBoolean:
		_, ok = val.(bool)
	case ArgTypeArray:
		_, ok = val.([]interface{})
	case ArgTypeObject:
		_, ok = val.(map[string]interface{})
	}
	if !ok {
		return NewValidationError(fmt.Sprintf("argument '%s' must be a %s", spec.Name, spec.Type), nil)
	}
	return nil
}

// ToolCall is a single tool request emitted by the decider.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
	// Ref carries the provider's call reference so the tool response can be
	// correlated when the transcript is replayed to the model.
	Ref string
}

// Decision is the decider's output for one planning round: either one or
// more tool calls, or a terminal natural-language answer. When a decision
// carries both, the tool calls win.
type Decision struct {
	ToolCalls []ToolCall
	Answer    string
}

// IsToolCall reports whether the decision requests tool invocations.
func (d Decision) IsToolCall() bool { return len(d.ToolCalls) > 0 }

// ToolInvocation is one scheduled tool call, stamped with the request it
// belongs to and the planning round that produced it.
type ToolInvocation struct {
	ID        string
	RequestID string
	Round     int
	ToolName  string
	Arguments map[string]interface{}
	Ref       string
}

// TableResult holds rows returned by a SQL query, column order preserved.
type TableResult struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// Document is a single full-text search hit.
type Document map[string]interface{}

// DocumentList holds full-text search hits. An empty hit list is a
// successful result, not an error.
type DocumentList struct {
	Index          string     `json:"index"`
	Hits           []Document `json:"hits"`
	EstimatedTotal int        `json:"estimated_total"`
}

// ArtifactRef points at a rendered artifact, such as a chart image.
type ArtifactRef struct {
	// Path is the location on disk.
	Path string `json:"path"`
	// URL is the resolvable link handed to callers.
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
}

// ResultPayload is the tagged union of tool outputs. Exactly one field is
// non-nil on a successful result.
type ResultPayload struct {
	Table     *TableResult  `json:"table,omitempty"`
	Documents *DocumentList `json:"documents,omitempty"`
	Artifact  *ArtifactRef  `json:"artifact,omitempty"`
}

// IsZero reports whether the payload carries no data.
func (p ResultPayload) IsZero() bool {
	return p.Table == nil && p.Documents == nil && p.Artifact == nil
}

// ToolResult records the outcome of one invocation. A failed result keeps
// the invocation and a diagnostic so the decider can react to it on the
// next round; it never aborts the request on its own.
type ToolResult struct {
	Invocation ToolInvocation
	Success    bool
	// Dispatched reports whether the invocation reached its adapter. Lookup,
	// resolution, and validation failures are recorded without dispatching.
	Dispatched bool
	Payload    ResultPayload
	Diagnostic string
	Duration   time.Duration
}

// TranscriptEntry pairs an invocation with its result.
type TranscriptEntry struct {
	Invocation ToolInvocation
	Result     ToolResult
}

// Transcript is the ordered history of everything that happened during a
// request. It is the only cross-round state the loop carries.
type Transcript struct {
	Entries []TranscriptEntry
}

// Append records one invocation/result pair.
func (t *Transcript) Append(res ToolResult) {
	t.Entries = append(t.Entries, TranscriptEntry{Invocation: res.Invocation, Result: res})
}

// Len returns the number of recorded entries.
func (t *Transcript) Len() int { return len(t.Entries) }

// ToolsUsed returns the distinct tool names whose adapter was actually
// invoked, in order of first use. An adapter that failed still counts; an
// invocation rejected before dispatch (unregistered name, bad arguments)
// does not.
func (t *Transcript) ToolsUsed() []string {
	seen := make(map[string]bool, len(t.Entries))
	var names []string
	for _, e := range t.Entries {
		if !e.Result.Dispatched {
			continue
		}
		if !seen[e.Invocation.ToolName] {
			seen[e.Invocation.ToolName] = true
			names = append(names, e.Invocation.ToolName)
		}
	}
	return names
}

// LastTable returns the most recent successful table payload, or nil.
func (t *Transcript) LastTable() *TableResult {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Result.Success && t.Entries[i].Result.Payload.Table != nil {
			return t.Entries[i].Result.Payload.Table
		}
	}
	return nil
}

// Artifacts returns every artifact produced during the request, in order.
func (t *Transcript) Artifacts() []ArtifactRef {
	var refs []ArtifactRef
	for _, e := range t.Entries {
		if e.Result.Success && e.Result.Payload.Artifact != nil {
			refs = append(refs, *e.Result.Payload.Artifact)
		}
	}
	return refs
}

// FinalAnswer is the terminal output of the orchestration loop.
type FinalAnswer struct {
	Text      string
	Artifacts []ArtifactRef
	// Degraded marks answers produced after budget exhaustion or a planner
	// failure rather than by a clean terminal decision.
	Degraded bool
}

// Response is the wire-level result returned to callers.
type Response struct {
	Response  string `json:"response"`
	ToolsUsed string `json:"tools_used"`
}
