package model

import "encoding/json"

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on RoleTool messages
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation proposed by the model. Arguments are kept
// raw; validating them is the dispatcher's job.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request represents a model inference request.
type Request struct {
	Messages    []Message        `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"` // OpenAI function format
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// Response represents a model inference response.
type Response struct {
	Message      Message `json:"message"`
	TokensUsed   int     `json:"tokens_used"`
	Model        string  `json:"model"`
	FinishReason string  `json:"finish_reason,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
}

// Text returns the assistant's text content.
func (r *Response) Text() string { return r.Message.Content }

// ToolCalls returns the proposed tool calls, if any.
func (r *Response) ToolCalls() []ToolCall { return r.Message.ToolCalls }

// Status represents the status of a model.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Breaker   string `json:"breaker,omitempty"`
	Error     string `json:"error,omitempty"`
}
