// Package executor runs typed tool calls against the graph store and the
// retrieval index.
package executor

import (
	"time"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
)

// Tool is a backend the model can call.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Schema returns the parameter schema offered to the model.
	Schema() *schemas.Schema
}

// Result represents the result of a tool execution.
type Result struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NewSuccessResult creates a successful result.
func NewSuccessResult(data any) *Result {
	return &Result{
		Success: true,
		Data:    data,
	}
}

// NewErrorResult creates an error result. Error holds the short message
// meant for the conversation; Err keeps the full chain for logs.
func NewErrorResult(err error) *Result {
	msg := apperrors.UserMessage(err)
	if s := apperrors.GetSuggestions(err); len(s) > 0 {
		msg += ". " + s[0]
	}
	return &Result{
		Success: false,
		Err:     err,
		Error:   msg,
	}
}

// TimedResult wraps a result with duration.
func TimedResult(result *Result, start time.Time) *Result {
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}
