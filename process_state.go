package askdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/askdb-ai/askdb/internal/eventbus"
)

// The orchestration loop is an explicit pushdown automaton rather than a
// hidden for-loop: the state stack tracks request history, each transition
// is observable through the event bus, and the budget and retry rules live
// in one place instead of being threaded through callbacks.

// ProcessState represents the current state of a request execution.
type ProcessState string

const (
	// StateInit is the initial state of the request
	StateInit ProcessState = "init"
	// StatePlanning asks the decider for the next step
	StatePlanning ProcessState = "planning"
	// StateDispatching runs the invocations of the current round
	StateDispatching ProcessState = "dispatching"
	// StateError degrades an internal failure into a final answer
	StateError ProcessState = "error"
	// StateComplete is the clean terminal state
	StateComplete ProcessState = "complete"
	// StateFailed is the degraded terminal state; it still carries an answer
	StateFailed ProcessState = "failed"
	// StateCancelled is the terminal state after context cancellation
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async execution cannot be determined.
	StateUnknown ProcessState = "unknown"
)

// RequestContext carries everything one request accumulates while moving
// through the state machine. It acts as the "tape" of the automaton; the
// transcript inside it is the only state that crosses planning rounds.
// The state, round, and error fields are guarded by mu because async status
// readers and CancelAsync observe them while Execute is still running.
type RequestContext struct {
	mu sync.Mutex

	RequestID string
	Query     Query

	// Transcript is the ordered invocation/result history.
	Transcript *Transcript
	// Pending holds the invocations emitted by the last planning round,
	// cleared once dispatch has joined.
	Pending []ToolInvocation

	// Round counts planning rounds consumed; PlannerRetries counts decider
	// failures and contract violations tolerated so far.
	Round          int
	PlannerRetries int

	FinalAnswer FinalAnswer

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState ProcessState
	StateStack   []ProcessState
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time
}

// NewRequestContext creates a fresh context for one request.
func NewRequestContext(requestID string, query Query) *RequestContext {
	return &RequestContext{
		RequestID:       requestID,
		Query:           query,
		Transcript:      &Transcript{},
		CurrentState:    StateInit,
		StateStack:      []ProcessState{},
		StateData:       make(map[string]interface{}),
		StartTime:       time.Now(),
		StateStartTimes: make(map[ProcessState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (rc *RequestContext) PushState(state ProcessState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.StateStack = append(rc.StateStack, rc.CurrentState)
	rc.CurrentState = state
	rc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (rc *RequestContext) PopState() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.StateStack) == 0 {
		return false
	}
	lastIdx := len(rc.StateStack) - 1
	rc.CurrentState = rc.StateStack[lastIdx]
	rc.StateStack = rc.StateStack[:lastIdx]
	rc.StateStartTimes[rc.CurrentState] = time.Now()
	return true
}

// State returns the current state.
func (rc *RequestContext) State() ProcessState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.CurrentState
}

// IsTerminal checks if the current state is terminal (Complete, Failed, Cancelled).
func (rc *RequestContext) IsTerminal() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.isTerminalLocked()
}

func (rc *RequestContext) isTerminalLocked() bool {
	return rc.CurrentState == StateComplete || rc.CurrentState == StateFailed || rc.CurrentState == StateCancelled
}

// advance moves to the next state unless the request already terminated.
func (rc *RequestContext) advance(next ProcessState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.isTerminalLocked() {
		return
	}
	rc.CurrentState = next
	rc.StateStartTimes[next] = time.Now()
}

// beginRound consumes one unit of the round budget. It returns the round
// number and false once the budget is exhausted.
func (rc *RequestContext) beginRound(max int) (int, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.Round >= max {
		return rc.Round, false
	}
	rc.Round++
	return rc.Round, true
}

// CurrentRound returns the number of planning rounds consumed so far.
func (rc *RequestContext) CurrentRound() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.Round
}

// SetError records the error and stage and transitions to StateError, where
// the error transition degrades it into a final answer. A request that has
// already terminated is left untouched.
func (rc *RequestContext) SetError(err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.isTerminalLocked() {
		return
	}
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateError
	rc.StateStartTimes[StateError] = time.Now()
}

// SetCancelled sets the state to Cancelled and records the cancellation
// error. A request that has already terminated is left untouched.
func (rc *RequestContext) SetCancelled(err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.isTerminalLocked() {
		return
	}
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateCancelled
	rc.EndTime = time.Now()
	rc.StateStartTimes[StateCancelled] = rc.EndTime
}

// Complete marks the request as cleanly finished and sets the end time.
func (rc *RequestContext) Complete(answer FinalAnswer) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.isTerminalLocked() {
		return
	}
	rc.FinalAnswer = answer
	rc.CurrentState = StateComplete
	rc.EndTime = time.Now()
	rc.StateStartTimes[StateComplete] = rc.EndTime
}

// Fail marks the request as degraded-but-answered and sets the end time.
func (rc *RequestContext) Fail(answer FinalAnswer, err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.isTerminalLocked() {
		return
	}
	answer.Degraded = true
	rc.FinalAnswer = answer
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateFailed
	rc.EndTime = time.Now()
	rc.StateStartTimes[StateFailed] = rc.EndTime
}

// GetTotalDuration returns the total duration of the request so far.
func (rc *RequestContext) GetTotalDuration() time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.EndTime.IsZero() {
		return rc.EndTime.Sub(rc.StartTime)
	}
	return time.Since(rc.StartTime)
}

// requestSnapshot is a consistent view of the guarded fields for readers
// outside the Execute goroutine.
type requestSnapshot struct {
	State       ProcessState
	Round       int
	LastError   error
	ErrorStage  string
	FinalAnswer FinalAnswer
	StartTime   time.Time
	EndTime     time.Time
}

func (s requestSnapshot) terminal() bool {
	return s.State == StateComplete || s.State == StateFailed || s.State == StateCancelled
}

func (rc *RequestContext) snapshot() requestSnapshot {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return requestSnapshot{
		State:       rc.CurrentState,
		Round:       rc.Round,
		LastError:   rc.LastError,
		ErrorStage:  rc.ErrorStage,
		FinalAnswer: rc.FinalAnswer,
		StartTime:   rc.StartTime,
		EndTime:     rc.EndTime,
	}
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.Bus, rCtx *RequestContext) (ProcessState, error)

// StateMachine represents a finite state machine for request execution.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.Bus
}

// NewStateMachine creates a new state machine with the provided event bus.
func NewStateMachine(eventBus eventbus.Bus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until a terminal state. A cancelled request
// returns the context error; a failed request returns its degraded answer
// with a nil error, because degradation is part of the contract rather than
// a failure of the loop itself.
func (sm *StateMachine) Execute(ctx context.Context, rCtx *RequestContext) (FinalAnswer, error) {
	for !rCtx.IsTerminal() {
		state := rCtx.State()

		select {
		case <-ctx.Done():
			err := ctx.Err()
			rCtx.SetCancelled(err, string(state))
			return FinalAnswer{}, NewCancelledError(string(state), err)
		default:
		}

		transition, exists := sm.transitions[state]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", state)
			rCtx.SetError(err, string(state))
			return FinalAnswer{}, NewInternalError(string(state), "state machine misconfigured", err)
		}

		nextState, err := transition(ctx, sm.eventBus, rCtx)
		if err != nil {
			stage := string(state)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rCtx.SetCancelled(err, stage)
				return FinalAnswer{}, NewCancelledError(stage, err)
			}
			// Transitions normally degrade their own failures. Anything that
			// escapes goes through the error state once.
			rCtx.SetError(err, stage)
			continue
		}

		rCtx.advance(nextState)
	}

	snap := rCtx.snapshot()
	if snap.State == StateCancelled {
		return FinalAnswer{}, NewCancelledError(snap.ErrorStage, snap.LastError)
	}
	return snap.FinalAnswer, nil
}
