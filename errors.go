package askdb

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateTool     = "DUPLICATE_TOOL"
	ErrCodeUnknownTool       = "UNKNOWN_TOOL"
	ErrCodeToolExecution     = "TOOL_EXECUTION_ERROR"
	ErrCodeArgResolution     = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodePlannerViolation  = "PLANNER_CONTRACT_VIOLATION"
	ErrCodePlannerDecode     = "PLANNER_DECODE_ERROR"
	ErrCodeBudgetExceeded    = "ROUND_BUDGET_EXCEEDED"
	ErrCodeQueryExecution    = "QUERY_EXECUTION_ERROR"
	ErrCodeSearchUnavailable = "SEARCH_UNAVAILABLE"
	ErrCodeRender            = "RENDER_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeCancelled         = "EXECUTION_CANCELLED"
	ErrCodeTimeout           = "EXECUTION_TIMEOUT"
	ErrCodeCache             = "CACHE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// AgentError is the coded error type used across the service. Only
// validation errors escape to the HTTP caller as non-2xx responses;
// everything else is absorbed into failed tool results or a degraded
// final answer.
type AgentError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeUnknownTool)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "planning", "dispatch")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AgentError.
func NewError(code, stage, message string, cause error) *AgentError {
	return &AgentError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// HasCode reports whether err is (or wraps) an AgentError with the given code.
func HasCode(err error, code string) bool {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// Specific error constructors

func NewValidationError(message string, cause error) *AgentError {
	return NewError(ErrCodeValidation, "validation", message, cause)
}

func NewDuplicateToolError(toolName string) *AgentError {
	return NewError(ErrCodeDuplicateTool, "registration", fmt.Sprintf("tool '%s' is already registered", toolName), nil)
}

func NewUnknownToolError(toolName string) *AgentError {
	return NewError(ErrCodeUnknownTool, "dispatch", fmt.Sprintf("tool '%s' is not registered", toolName), nil)
}

func NewToolExecutionError(toolName string, cause error) *AgentError {
	return NewError(ErrCodeToolExecution, "dispatch", fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewArgResolutionError(toolName, argName string, cause error) *AgentError {
	msg := fmt.Sprintf("failed to resolve argument '%s' for tool '%s'", argName, toolName)
	return NewError(ErrCodeArgResolution, "dispatch", msg, cause)
}

func NewPlannerViolationError(message string, cause error) *AgentError {
	return NewError(ErrCodePlannerViolation, "planning", message, cause)
}

func NewPlannerDecodeError(cause error) *AgentError {
	return NewError(ErrCodePlannerDecode, "planning", "failed to decode a usable decision from the model", cause)
}

func NewBudgetExceededError(rounds int) *AgentError {
	return NewError(ErrCodeBudgetExceeded, "planning", fmt.Sprintf("round budget of %d exhausted", rounds), nil)
}

func NewQueryExecutionError(message string, cause error) *AgentError {
	return NewError(ErrCodeQueryExecution, "dispatch", message, cause)
}

func NewSearchUnavailableError(message string, cause error) *AgentError {
	return NewError(ErrCodeSearchUnavailable, "dispatch", message, cause)
}

func NewRenderError(message string, cause error) *AgentError {
	return NewError(ErrCodeRender, "dispatch", message, cause)
}

func NewConfigurationError(message string, cause error) *AgentError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *AgentError {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *AgentError {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewCacheError(operation string, cause error) *AgentError {
	return NewError(ErrCodeCache, "cache", fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *AgentError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
