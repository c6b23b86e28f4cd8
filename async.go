package askdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askdb-ai/askdb/internal/eventbus"
)

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Query        string        `json:"query"`
	CurrentState ProcessState  `json:"current_state"`
	Round        int           `json:"round"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// AskAsync starts an asynchronous query execution. It returns a unique
// execution ID that can be used to check the status or fetch the result.
func (a *Agent) AskAsync(ctx context.Context, query Query) (string, error) {
	if query.Text == "" {
		return "", NewValidationError("query text must not be empty", nil)
	}

	executionID := uuid.NewString()
	rCtx := NewRequestContext(executionID, query)
	stateMachine := a.createStateMachine()

	// The request outlives the caller's context; cancellation goes through
	// CancelAsync instead. The cancel func must be in place before the
	// context becomes visible to CancelAsync through the map.
	asyncCtx, cancel := context.WithCancel(context.Background())
	rCtx.StateData["cancel"] = cancel

	a.asyncExecutionsMutex.Lock()
	a.asyncExecutions[executionID] = rCtx
	a.asyncExecutionsMutex.Unlock()

	publish(ctx, a.eventBus, eventbus.EventAsyncRequestStarted, query.Text, "Agent.AskAsync", map[string]interface{}{
		"execution_id": executionID,
		"timestamp":    time.Now().Format(time.RFC3339),
	})

	go func() {
		defer cancel()

		_, err := stateMachine.Execute(asyncCtx, rCtx)

		eventType := eventbus.EventAsyncRequestSuccess
		metadata := map[string]interface{}{
			"execution_id": executionID,
			"duration_ms":  rCtx.GetTotalDuration().Milliseconds(),
		}
		if err != nil {
			eventType = eventbus.EventAsyncRequestFailure
			metadata["error"] = err.Error()
			metadata["error_stage"] = rCtx.snapshot().ErrorStage
		}
		// The caller's context may be long gone by now.
		publish(context.Background(), a.eventBus, eventType, query.Text, "Agent.AskAsync", metadata)
	}()

	return executionID, nil
}

// AsyncStatus retrieves the current status of an async execution.
func (a *Agent) AsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	rCtx, exists := a.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	snap := rCtx.snapshot()
	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Query:        rCtx.Query.Text,
		CurrentState: snap.State,
		Round:        snap.Round,
		StartTime:    snap.StartTime,
		Duration:     rCtx.GetTotalDuration(),
		IsComplete:   snap.terminal(),
		HasError:     snap.State == StateCancelled || (snap.State == StateFailed && snap.LastError != nil),
	}

	if snap.LastError != nil {
		status.ErrorMessage = snap.LastError.Error()
		status.ErrorStage = snap.ErrorStage
	}

	return status, nil
}

// AsyncResult retrieves the composed response of a finished async execution.
// Degraded answers are returned like any other; in-progress and cancelled
// executions return an error.
func (a *Agent) AsyncResult(executionID string) (Response, error) {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	rCtx, exists := a.asyncExecutions[executionID]
	if !exists {
		return Response{}, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	// Taking the snapshot first orders the transcript reads below after the
	// terminal write that published the final answer.
	snap := rCtx.snapshot()
	switch snap.State {
	case StateComplete, StateFailed:
		return Compose(snap.FinalAnswer, rCtx.Transcript), nil
	case StateCancelled:
		return Response{}, NewCancelledError(snap.ErrorStage, snap.LastError)
	default:
		return Response{}, fmt.Errorf("execution is still in progress (current state: %s)", snap.State)
	}
}

// CancelAsync cancels an ongoing async execution. Returns true if the
// execution was cancelled, false if it had already finished.
func (a *Agent) CancelAsync(executionID string) (bool, error) {
	a.asyncExecutionsMutex.Lock()
	defer a.asyncExecutionsMutex.Unlock()

	rCtx, exists := a.asyncExecutions[executionID]
	if !exists {
		return false, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	if rCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := rCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}
	cancelFn()
	rCtx.SetCancelled(context.Canceled, string(rCtx.State()))

	publish(context.Background(), a.eventBus, eventbus.EventAsyncRequestCancelled, rCtx.Query.Text, "Agent.CancelAsync", map[string]interface{}{
		"execution_id": executionID,
		"duration_ms":  rCtx.GetTotalDuration().Milliseconds(),
	})

	return true, nil
}

// ListAsyncExecutions returns all async execution IDs and their current states.
func (a *Agent) ListAsyncExecutions() map[string]string {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string)
	for id, rCtx := range a.asyncExecutions {
		result[id] = string(rCtx.State())
	}

	return result
}

// CleanupCompletedExecutions removes finished executions older than the
// given duration so the async map does not grow without bound.
func (a *Agent) CleanupCompletedExecutions(olderThan time.Duration) int {
	a.asyncExecutionsMutex.Lock()
	defer a.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0

	for id, rCtx := range a.asyncExecutions {
		snap := rCtx.snapshot()
		if snap.terminal() && now.Sub(snap.EndTime) > olderThan {
			delete(a.asyncExecutions, id)
			count++
		}
	}

	return count
}
