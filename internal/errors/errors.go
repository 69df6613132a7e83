// Package errors provides the error taxonomy shared by the bridge components.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ============================================================
// Error Categories
// ============================================================

// Category defines the type of error for handling decisions.
type Category int

const (
	// CategoryTemporary errors are retryable (network timeouts, 5xx responses)
	CategoryTemporary Category = iota

	// CategoryPermanent errors are not retryable (bad credentials, unparseable source)
	CategoryPermanent

	// CategoryUser errors are due to caller input (bad query, bad upload)
	CategoryUser

	// CategorySystem errors are system-level (disk, database)
	CategorySystem
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTemporary:
		return "temporary"
	case CategoryPermanent:
		return "permanent"
	case CategoryUser:
		return "user"
	case CategorySystem:
		return "system"
	default:
		return "unknown"
	}
}

// ============================================================
// AppError - Main Error Type
// ============================================================

// AppError is the main error type for all bridge errors.
type AppError struct {
	// Code is a unique error code for programmatic handling
	Code string

	// Message is a short message safe to show to users and to the model
	Message string

	// Category determines how the error should be handled
	Category Category

	// Inner is the underlying error, kept for logs only
	Inner error

	// Retryable indicates if the operation can be retried
	Retryable bool

	// Suggestions are recovery suggestions for the user
	Suggestions []string

	// Context is additional debugging information
	Context map[string]any
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder

	if e.Code != "" {
		sb.WriteString("[")
		sb.WriteString(e.Code)
		sb.WriteString("] ")
	}

	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an AppError with the same code, or is
// contained in the wrapped chain.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok && t.Code != "" {
		return t.Code == e.Code
	}
	return errors.Is(e.Inner, target)
}

// ============================================================
// Error Constructors
// ============================================================

// New creates a new AppError.
func New(code, message string, category Category) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
	}
}

// Wrap wraps an existing error with a code and a user-facing message.
func Wrap(err error, code, message string, category Category) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:        code,
			Message:     message,
			Category:    category,
			Inner:       appErr,
			Retryable:   appErr.Retryable,
			Suggestions: appErr.Suggestions,
			Context:     appErr.Context,
		}
	}

	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
		Inner:    err,
	}
}

// Temporary creates a retryable temporary error.
func Temporary(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Category: CategoryTemporary, Retryable: true}
}

// Permanent creates a non-retryable permanent error.
func Permanent(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Category: CategoryPermanent}
}

// User creates a caller input error.
func User(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Category: CategoryUser}
}

// System creates a system-level error.
func System(code, message string) *AppError {
	return &AppError{Code: code, Message: message, Category: CategorySystem}
}

// ============================================================
// Builder Pattern for Fluent Error Construction
// ============================================================

// Builder provides fluent error construction.
type Builder struct {
	err *AppError
}

// NewBuilder starts building a new error.
func NewBuilder(code, message string) *Builder {
	return &Builder{
		err: &AppError{
			Code:     code,
			Message:  message,
			Category: CategoryTemporary,
			Context:  make(map[string]any),
		},
	}
}

// Temporary marks the error as temporary/retryable.
func (b *Builder) Temporary() *Builder {
	b.err.Category = CategoryTemporary
	b.err.Retryable = true
	return b
}

// Permanent marks the error as permanent/non-retryable.
func (b *Builder) Permanent() *Builder {
	b.err.Category = CategoryPermanent
	b.err.Retryable = false
	return b
}

// User marks the error as a caller input error.
func (b *Builder) User() *Builder {
	b.err.Category = CategoryUser
	b.err.Retryable = false
	return b
}

// Wrap sets the underlying error.
func (b *Builder) Wrap(err error) *Builder {
	b.err.Inner = err
	return b
}

// WithSuggestion adds a recovery suggestion.
func (b *Builder) WithSuggestion(suggestion string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, suggestion)
	return b
}

// WithContext adds context information.
func (b *Builder) WithContext(key string, value any) *Builder {
	b.err.Context[key] = value
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *AppError {
	return b.err
}

// ============================================================
// Error Codes
// ============================================================

const (
	// Graph store errors
	CodeLoadError    = "LOAD_ERROR"
	CodeNotLoaded    = "NOT_LOADED"
	CodeInvalidQuery = "INVALID_QUERY"
	CodeQueryError   = "QUERY_ERROR"

	// Retrieval errors
	CodeBuildError     = "BUILD_ERROR"
	CodeNotInitialized = "NOT_INITIALIZED"
	CodeSearchError    = "SEARCH_ERROR"

	// Dispatch errors
	CodeInvalidToolCall = "INVALID_TOOL_CALL"
	CodeBackendTimeout  = "BACKEND_TIMEOUT"

	// Model errors
	CodeModelUnavailable     = "MODEL_UNAVAILABLE"
	CodeModelRateLimit       = "MODEL_RATE_LIMIT"
	CodeModelInvalidResponse = "MODEL_INVALID_RESPONSE"

	// Surface errors
	CodeUploadRejected = "UPLOAD_REJECTED"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeAuditFailed    = "AUDIT_FAILED"
)

// NotLoaded is returned when the graph is queried before any source is loaded.
func NotLoaded() *AppError {
	return NewBuilder(CodeNotLoaded, "no ontology graph is loaded").
		User().
		WithSuggestion("Upload an ontology source first").
		Build()
}

// NotInitialized is returned when the retrieval index is searched before it exists.
func NotInitialized() *AppError {
	return NewBuilder(CodeNotInitialized, "retrieval index is not initialized").
		User().
		WithSuggestion("Upload an ontology source first").
		Build()
}

// InvalidQuery is returned for queries that carry neither a SELECT nor an ASK form.
func InvalidQuery(reason string) *AppError {
	return User(CodeInvalidQuery, reason)
}

// InvalidToolCall is returned for unknown tools and malformed arguments.
func InvalidToolCall(format string, args ...any) *AppError {
	return User(CodeInvalidToolCall, fmt.Sprintf(format, args...))
}

// BackendTimeout wraps a deadline overrun of an external call.
func BackendTimeout(op string, err error) *AppError {
	return &AppError{
		Code:      CodeBackendTimeout,
		Message:   op + " timed out",
		Category:  CategoryTemporary,
		Inner:     err,
		Retryable: true,
	}
}

// ============================================================
// Helpers
// ============================================================

// Code returns the code of the first AppError in the chain, or "".
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetCategory extracts the category from an error.
// Returns CategoryTemporary for non-AppError errors.
func GetCategory(err error) Category {
	if err == nil {
		return CategoryTemporary
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category
	}

	return CategoryTemporary
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return true
}

// IsTimeout reports whether err is a deadline overrun or a BACKEND_TIMEOUT.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || HasCode(err, CodeBackendTimeout)
}

// GetSuggestions returns recovery suggestions for an error.
func GetSuggestions(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Suggestions
	}
	return nil
}

// UserMessage returns the short message of the outermost AppError, never
// the wrapped internal detail. Non-AppErrors collapse to a generic apology.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "something went wrong"
}

// FormatUserMessage formats a user-friendly error message with suggestions.
func FormatUserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(UserMessage(err))

	if suggestions := GetSuggestions(err); len(suggestions) > 0 {
		sb.WriteString("\n\nSuggestions:")
		for _, s := range suggestions {
			sb.WriteString("\n  - ")
			sb.WriteString(s)
		}
	}

	return sb.String()
}
