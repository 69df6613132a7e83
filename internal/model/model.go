// Package model talks to chat-completion models with tool calling.
package model

import "context"

// Model is a chat model that may answer directly or propose tool calls.
type Model interface {
	// Chat runs one completion over the full message history.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// IsAvailable checks if the model is ready.
	IsAvailable() bool

	// Name returns the model identifier.
	Name() string

	// Status returns the current status of the model.
	Status() *Status
}
