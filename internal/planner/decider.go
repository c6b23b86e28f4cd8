// Package planner implements the Decider on top of genkit: tool specs are
// advertised to the model on every round, the transcript is replayed as
// messages, and tool requests are decoded without executing them; dispatch
// belongs to the orchestration loop.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/logger"
)

// GenkitDecider asks a genkit model which tool to invoke next, or for the
// final answer.
type GenkitDecider struct {
	g     *genkit.Genkit
	model string
	log   *logger.Logger

	mu      sync.Mutex
	defined map[string]ai.Tool
}

// NewGenkitDecider creates a decider bound to a genkit instance. model may
// be empty to use the instance's default model.
func NewGenkitDecider(g *genkit.Genkit, model string, log *logger.Logger) *GenkitDecider {
	return &GenkitDecider{
		g:       g,
		model:   model,
		log:     log,
		defined: make(map[string]ai.Tool),
	}
}

// Decide implements askdb.Decider.
func (d *GenkitDecider) Decide(ctx context.Context, query askdb.Query, transcript *askdb.Transcript, specs []askdb.ToolSpec) (askdb.Decision, error) {
	refs, err := d.ensureTools(specs)
	if err != nil {
		return askdb.Decision{}, err
	}

	opts := []ai.GenerateOption{
		ai.WithMessages(buildMessages(query, transcript)...),
		ai.WithTools(refs...),
		ai.WithReturnToolRequests(true),
	}
	if d.model != "" {
		opts = append(opts, ai.WithModelName(d.model))
	}

	resp, err := genkit.Generate(ctx, d.g, opts...)
	if err != nil {
		return askdb.Decision{}, fmt.Errorf("generate: %w", err)
	}

	decision, err := decodeDecision(resp)
	if err != nil {
		return askdb.Decision{}, err
	}

	if d.log != nil {
		d.log.Debug("", "decision", map[string]interface{}{
			"tool_calls": len(decision.ToolCalls),
			"is_final":   !decision.IsToolCall(),
		})
	}
	return decision, nil
}

// ensureTools defines each spec as a genkit tool once and returns the refs
// in spec order. The handlers never run: requests are returned to the loop
// instead of being executed by genkit.
func (d *GenkitDecider) ensureTools(specs []askdb.ToolSpec) ([]ai.ToolRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	refs := make([]ai.ToolRef, 0, len(specs))
	for _, spec := range specs {
		tool, ok := d.defined[spec.Name]
		if !ok {
			name := spec.Name
			tool = genkit.DefineToolWithInputSchema(d.g, name, spec.Description, buildInputSchema(spec),
				func(_ *ai.ToolContext, _ any) (any, error) {
					return nil, fmt.Errorf("tool %q is dispatched by the orchestration loop", name)
				})
			d.defined[name] = tool
		}
		refs = append(refs, tool)
	}
	return refs, nil
}

// buildMessages renders the conversation: system prompt, the user query,
// then the transcript replayed as model tool requests and tool responses.
func buildMessages(query askdb.Query, transcript *askdb.Transcript) []*ai.Message {
	msgs := []*ai.Message{
		ai.NewSystemTextMessage(systemPrompt),
		ai.NewUserTextMessage(renderUserMessage(query)),
	}
	if transcript == nil {
		return msgs
	}
	for _, e := range transcript.Entries {
		msgs = append(msgs,
			ai.NewMessage(ai.RoleModel, nil, ai.NewToolRequestPart(&ai.ToolRequest{
				Name:  e.Invocation.ToolName,
				Input: e.Invocation.Arguments,
				Ref:   e.Invocation.Ref,
			})),
			ai.NewMessage(ai.RoleTool, nil, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   e.Invocation.ToolName,
				Ref:    e.Invocation.Ref,
				Output: toolOutput(e.Result),
			})),
		)
	}
	return msgs
}

// toolOutput flattens a result into the JSON shape the model sees. Failed
// invocations surface their diagnostic so the model can correct course.
func toolOutput(res askdb.ToolResult) map[string]interface{} {
	if !res.Success {
		return map[string]interface{}{
			"success": false,
			"error":   res.Diagnostic,
		}
	}
	out := map[string]interface{}{"success": true}
	switch {
	case res.Payload.Table != nil:
		out["columns"] = res.Payload.Table.Columns
		out["rows"] = res.Payload.Table.Rows
		out["row_count"] = len(res.Payload.Table.Rows)
	case res.Payload.Documents != nil:
		out["index"] = res.Payload.Documents.Index
		out["hits"] = res.Payload.Documents.Hits
		out["estimated_total"] = res.Payload.Documents.EstimatedTotal
	case res.Payload.Artifact != nil:
		out["chart_url"] = res.Payload.Artifact.URL
	}
	return out
}

// decodeDecision extracts tool requests or the terminal answer from a model
// response. Tool requests win when both are present.
func decodeDecision(resp *ai.ModelResponse) (askdb.Decision, error) {
	if resp == nil || resp.Message == nil {
		return askdb.Decision{}, fmt.Errorf("empty model response")
	}

	var calls []askdb.ToolCall
	for _, part := range resp.Message.Content {
		if !part.IsToolRequest() || part.ToolRequest == nil {
			continue
		}
		args, err := coerceArguments(part.ToolRequest.Input)
		if err != nil {
			return askdb.Decision{}, fmt.Errorf("tool request %q: %w", part.ToolRequest.Name, err)
		}
		calls = append(calls, askdb.ToolCall{
			Name:      part.ToolRequest.Name,
			Arguments: args,
			Ref:       part.ToolRequest.Ref,
		})
	}

	if len(calls) > 0 {
		return askdb.Decision{ToolCalls: calls, Answer: resp.Text()}, nil
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return askdb.Decision{}, fmt.Errorf("model returned neither tool calls nor text")
	}
	return askdb.Decision{Answer: text}, nil
}

// coerceArguments normalizes a tool request input into a string-keyed map.
func coerceArguments(input any) (map[string]interface{}, error) {
	switch v := input.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case json.RawMessage:
		return unmarshalArguments([]byte(v))
	case []byte:
		return unmarshalArguments(v)
	case string:
		return unmarshalArguments([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported argument shape %T", input)
		}
		return unmarshalArguments(data)
	}
}

func unmarshalArguments(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
