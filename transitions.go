package askdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/askdb-ai/askdb/internal/eventbus"
)

const degradedAnswerText = "I was unable to determine how to answer this query."

// CreateRequestStateMachine builds the complete state machine for one request.
func CreateRequestStateMachine(components Components, eventBus eventbus.Bus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StatePlanning, createPlanningTransition(components))
	sm.RegisterTransition(StateDispatching, createDispatchingTransition(components))
	sm.RegisterTransition(StateError, createErrorTransition(components))
	sm.RegisterTransition(StateComplete, createTerminalTransition(StateComplete))
	sm.RegisterTransition(StateFailed, createTerminalTransition(StateFailed))
	sm.RegisterTransition(StateCancelled, createTerminalTransition(StateCancelled))

	return sm
}

func publish(ctx context.Context, eb eventbus.Bus, eventType eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	eb.Publish(ctx, eventbus.NewEvent(eventType, payload, source, metadata))
}

// createInitTransition handles the initialization state.
func createInitTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.Bus, rCtx *RequestContext) (ProcessState, error) {
		publish(ctx, eb, eventbus.EventRequestStarted, rCtx.Query.Text, "StateMachine.Init", map[string]interface{}{
			"request_id": rCtx.RequestID,
			"timestamp":  time.Now().Format(time.RFC3339),
		})
		return StatePlanning, nil
	}
}

// createPlanningTransition asks the decider for the next step. It owns the
// round budget and the planner retry budget.
func createPlanningTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.Bus, rCtx *RequestContext) (ProcessState, error) {
		round, ok := rCtx.beginRound(c.Config.MaxRounds)
		if !ok {
			publish(ctx, eb, eventbus.EventRoundBudgetExhausted, round, "StateMachine.Planning", map[string]interface{}{
				"request_id": rCtx.RequestID,
				"max_rounds": c.Config.MaxRounds,
			})
			rCtx.Fail(bestEffortAnswer(rCtx), NewBudgetExceededError(c.Config.MaxRounds), "planning")
			publishRequestFailure(ctx, eb, rCtx, "round_budget")
			return StateFailed, nil
		}

		publish(ctx, eb, eventbus.EventPlanningStarted, rCtx.Query.Text, "StateMachine.Planning", map[string]interface{}{
			"request_id": rCtx.RequestID,
			"round":      round,
		})

		dctx := ctx
		if c.Config.PlannerTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, c.Config.PlannerTimeout)
			defer cancel()
		}

		decision, err := c.Decider.Decide(dctx, rCtx.Query, rCtx.Transcript, c.Registry.DescribeAll())
		if err != nil {
			if ctx.Err() != nil {
				return StateUnknown, ctx.Err()
			}
			return retryOrDegradePlanner(ctx, eb, c, rCtx, NewPlannerDecodeError(err))
		}

		if decision.IsToolCall() {
			invocations := make([]ToolInvocation, 0, len(decision.ToolCalls))
			names := make([]string, 0, len(decision.ToolCalls))
			for _, call := range decision.ToolCalls {
				invocations = append(invocations, ToolInvocation{
					ID:        uuid.NewString(),
					RequestID: rCtx.RequestID,
					Round:     round,
					ToolName:  call.Name,
					Arguments: call.Arguments,
					Ref:       call.Ref,
				})
				names = append(names, call.Name)
			}
			rCtx.Pending = invocations
			publish(ctx, eb, eventbus.EventDecisionToolCalls, names, "StateMachine.Planning", map[string]interface{}{
				"request_id": rCtx.RequestID,
				"round":      round,
				"call_count": len(invocations),
			})
			return StateDispatching, nil
		}

		answer := strings.TrimSpace(decision.Answer)
		if answer == "" {
			// Neither a tool call nor text is a contract violation.
			return retryOrDegradePlanner(ctx, eb, c, rCtx, NewPlannerDecodeError(fmt.Errorf("decision carried neither tool calls nor an answer")))
		}

		publish(ctx, eb, eventbus.EventDecisionFinal, answer, "StateMachine.Planning", map[string]interface{}{
			"request_id":    rCtx.RequestID,
			"round":         round,
			"answer_length": len(answer),
		})
		rCtx.Complete(FinalAnswer{Text: answer, Artifacts: rCtx.Transcript.Artifacts()})
		publish(ctx, eb, eventbus.EventRequestSuccess, rCtx.Query.Text, "StateMachine.Planning", map[string]interface{}{
			"request_id": rCtx.RequestID,
			"rounds":     round,
			"tools_used": rCtx.Transcript.ToolsUsed(),
		})
		return StateComplete, nil
	}
}

// retryOrDegradePlanner consumes one unit of the planner retry budget. Once
// the budget is gone the request degrades instead of erroring out.
func retryOrDegradePlanner(ctx context.Context, eb eventbus.Bus, c Components, rCtx *RequestContext, cause *AgentError) (ProcessState, error) {
	rCtx.PlannerRetries++
	publish(ctx, eb, eventbus.EventPlanningFailure, cause.Error(), "StateMachine.Planning", map[string]interface{}{
		"request_id": rCtx.RequestID,
		"round":      rCtx.CurrentRound(),
		"retries":    rCtx.PlannerRetries,
	})
	if rCtx.PlannerRetries > c.Config.MaxPlannerRetries {
		rCtx.Fail(FinalAnswer{Text: degradedAnswerText, Artifacts: rCtx.Transcript.Artifacts()}, cause, "planning")
		publishRequestFailure(ctx, eb, rCtx, "planner_retries")
		return StateFailed, nil
	}
	publish(ctx, eb, eventbus.EventPlanningRetry, cause.Error(), "StateMachine.Planning", map[string]interface{}{
		"request_id": rCtx.RequestID,
		"round":      rCtx.CurrentRound(),
	})
	return StatePlanning, nil
}

// createDispatchingTransition runs all invocations of the current round in
// parallel and joins before control returns to planning. Failures become
// failed transcript entries, never loop errors.
func createDispatchingTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.Bus, rCtx *RequestContext) (ProcessState, error) {
		pending := rCtx.Pending
		rCtx.Pending = nil

		publish(ctx, eb, eventbus.EventDispatchStarted, len(pending), "StateMachine.Dispatching", map[string]interface{}{
			"request_id": rCtx.RequestID,
			"round":      rCtx.CurrentRound(),
		})

		type job struct {
			idx  int
			inv  ToolInvocation
			tool Tool
		}

		results := make([]ToolResult, len(pending))
		jobs := make([]job, 0, len(pending))
		violation := false

		for i, inv := range pending {
			spec, tool, err := c.Registry.Lookup(inv.ToolName)
			if err != nil {
				violation = true
				results[i] = failedResult(inv, err)
				continue
			}
			args, err := resolveArguments(inv.Arguments, rCtx.Query.Variables)
			if err != nil {
				results[i] = failedResult(inv, NewArgResolutionError(inv.ToolName, "", err))
				continue
			}
			if inv.ToolName == ToolNameGenerateChart {
				args = repairChartData(args, rCtx.Transcript)
			}
			if err := spec.ValidateArguments(args); err != nil {
				results[i] = failedResult(inv, err)
				continue
			}
			inv.Arguments = args
			jobs = append(jobs, job{idx: i, inv: inv, tool: tool})
		}

		workers := c.Config.MaxConcurrentDispatch
		if workers < 1 {
			workers = 1
		}
		p := pool.New().WithMaxGoroutines(workers)
		for _, j := range jobs {
			j := j
			p.Go(func() {
				publish(ctx, eb, eventbus.EventToolInvocationStarted, j.inv.ToolName, "StateMachine.Dispatching", map[string]interface{}{
					"request_id":    j.inv.RequestID,
					"invocation_id": j.inv.ID,
					"round":         j.inv.Round,
				})
				cctx := ctx
				if c.Config.ToolTimeout > 0 {
					var cancel context.CancelFunc
					cctx, cancel = context.WithTimeout(ctx, c.Config.ToolTimeout)
					defer cancel()
				}
				start := time.Now()
				payload, err := j.tool.Invoke(cctx, j.inv.Arguments)
				elapsed := time.Since(start)
				if err != nil {
					if cctx.Err() != nil && ctx.Err() == nil {
						err = NewTimeoutError("dispatch", err)
					}
					results[j.idx] = ToolResult{Invocation: j.inv, Dispatched: true, Diagnostic: err.Error(), Duration: elapsed}
					publish(ctx, eb, eventbus.EventToolInvocationFailure, j.inv.ToolName, "StateMachine.Dispatching", map[string]interface{}{
						"request_id":    j.inv.RequestID,
						"invocation_id": j.inv.ID,
						"error":         err.Error(),
						"duration_ms":   elapsed.Milliseconds(),
					})
					return
				}
				results[j.idx] = ToolResult{Invocation: j.inv, Success: true, Dispatched: true, Payload: payload, Duration: elapsed}
				publish(ctx, eb, eventbus.EventToolInvocationSuccess, j.inv.ToolName, "StateMachine.Dispatching", map[string]interface{}{
					"request_id":    j.inv.RequestID,
					"invocation_id": j.inv.ID,
					"duration_ms":   elapsed.Milliseconds(),
				})
			})
		}
		p.Wait()

		if ctx.Err() != nil {
			return StateUnknown, ctx.Err()
		}

		// Emission order is preserved for provenance regardless of which
		// goroutine finished first.
		for _, res := range results {
			rCtx.Transcript.Append(res)
		}

		publish(ctx, eb, eventbus.EventDispatchCompleted, len(results), "StateMachine.Dispatching", map[string]interface{}{
			"request_id": rCtx.RequestID,
			"round":      rCtx.CurrentRound(),
		})

		if violation {
			// The failed entries already surface the violation to the
			// decider; the retry budget bounds how often we tolerate it.
			rCtx.PlannerRetries++
			if rCtx.PlannerRetries > c.Config.MaxPlannerRetries {
				rCtx.Fail(FinalAnswer{Text: degradedAnswerText, Artifacts: rCtx.Transcript.Artifacts()},
					NewPlannerViolationError("decider kept requesting unregistered tools", nil), "dispatch")
				publishRequestFailure(ctx, eb, rCtx, "planner_violation")
				return StateFailed, nil
			}
		}

		return StatePlanning, nil
	}
}

// createErrorTransition degrades whatever error reached the error state into
// a final answer so the caller still receives a response.
func createErrorTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.Bus, rCtx *RequestContext) (ProcessState, error) {
		snap := rCtx.snapshot()
		rCtx.Fail(bestEffortAnswer(rCtx), snap.LastError, snap.ErrorStage)
		publishRequestFailure(ctx, eb, rCtx, snap.ErrorStage)
		return StateFailed, nil
	}
}

func createTerminalTransition(state ProcessState) StateTransition {
	return func(_ context.Context, _ eventbus.Bus, _ *RequestContext) (ProcessState, error) {
		return state, nil
	}
}

func publishRequestFailure(ctx context.Context, eb eventbus.Bus, rCtx *RequestContext, reason string) {
	snap := rCtx.snapshot()
	meta := map[string]interface{}{
		"request_id": rCtx.RequestID,
		"rounds":     snap.Round,
		"reason":     reason,
	}
	if snap.LastError != nil {
		meta["error"] = snap.LastError.Error()
	}
	publish(ctx, eb, eventbus.EventRequestFailure, rCtx.Query.Text, "StateMachine", meta)
}

// failedResult records a pre-dispatch rejection. The adapter never ran, so
// the entry surfaces to the decider but stays out of ToolsUsed.
func failedResult(inv ToolInvocation, err error) ToolResult {
	return ToolResult{Invocation: inv, Diagnostic: err.Error()}
}

// repairChartData backfills a missing chart data argument with the rows of
// the most recent successful SQL query, mirroring the most common decider
// mistake: asking for a chart of "the data above" without repeating it.
func repairChartData(args map[string]interface{}, transcript *Transcript) map[string]interface{} {
	if data, ok := args["data"]; ok && data != nil {
		if rows, isSlice := data.([]interface{}); !isSlice || len(rows) > 0 {
			return args
		}
	}
	table := transcript.LastTable()
	if table == nil {
		return args
	}
	rows := make([]interface{}, len(table.Rows))
	for i, row := range table.Rows {
		rows[i] = map[string]interface{}(row)
	}
	repaired := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		repaired[k] = v
	}
	repaired["data"] = rows
	return repaired
}

// bestEffortAnswer summarizes whatever the transcript collected before the
// request degraded.
func bestEffortAnswer(rCtx *RequestContext) FinalAnswer {
	t := rCtx.Transcript
	if t == nil || t.Len() == 0 {
		return FinalAnswer{Text: degradedAnswerText}
	}
	var b strings.Builder
	b.WriteString("I could not fully complete the request; here is what was gathered before stopping:")
	for _, e := range t.Entries {
		if !e.Result.Success {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(e.Invocation.ToolName)
		b.WriteString(": ")
		b.WriteString(summarizePayload(e.Result.Payload))
	}
	return FinalAnswer{Text: b.String(), Artifacts: t.Artifacts()}
}

func summarizePayload(p ResultPayload) string {
	switch {
	case p.Table != nil:
		limit := len(p.Table.Rows)
		if limit > 5 {
			limit = 5
		}
		sample, err := json.Marshal(p.Table.Rows[:limit])
		if err != nil {
			return fmt.Sprintf("%d row(s)", len(p.Table.Rows))
		}
		return fmt.Sprintf("%d row(s), e.g. %s", len(p.Table.Rows), sample)
	case p.Documents != nil:
		return fmt.Sprintf("%d hit(s) from index %q", len(p.Documents.Hits), p.Documents.Index)
	case p.Artifact != nil:
		return fmt.Sprintf("chart saved at %s", p.Artifact.URL)
	default:
		return "no data"
	}
}
