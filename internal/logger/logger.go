// Package logger provides structured JSON logging to stdout. Every entry
// carries the component name and, when available, the request ID so log
// lines can be correlated with transcript entries and metrics.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes structured JSON entries for one component.
type Logger struct {
	Component string
	debug     bool
}

// Entry is the JSON shape of one log line.
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// New creates a logger for the given component. Debug lines are emitted
// only when the LOG_DEBUG environment variable is set.
func New(component string) *Logger {
	return &Logger{
		Component: component,
		debug:     os.Getenv("LOG_DEBUG") != "",
	}
}

func (l *Logger) log(level Level, requestID, message string, fields map[string]interface{}) {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.Component,
		RequestID: requestID,
		Message:   message,
		Fields:    fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: failed to marshal entry: %v\n", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

// Debug logs a debug-level message when debug logging is enabled.
func (l *Logger) Debug(requestID, message string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log(LevelDebug, requestID, message, fields)
}

// Info logs an info-level message.
func (l *Logger) Info(requestID, message string, fields map[string]interface{}) {
	l.log(LevelInfo, requestID, message, fields)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(requestID, message string, fields map[string]interface{}) {
	l.log(LevelWarn, requestID, message, fields)
}

// Error logs an error-level message.
func (l *Logger) Error(requestID, message string, fields map[string]interface{}) {
	l.log(LevelError, requestID, message, fields)
}
