package protocol

import "encoding/json"

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]Parameter `json:"parameters"`
}

// Parameter describes a tool parameter.
type Parameter struct {
	Type        string `json:"type"` // string, integer, number, boolean, array, object
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolCallRequest is one tool invocation proposed by the model.
// Arguments is the raw JSON the model produced; it may be malformed.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResult is the outcome of one tool call. Content is always a flat
// string: plain text, or JSON for list and mapping values.
type ToolCallResult struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
}
