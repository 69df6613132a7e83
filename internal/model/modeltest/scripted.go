// Package modeltest provides a scripted model for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flynn-ai/kgbridge/internal/model"
)

// Step is one scripted reply: either a response or an error.
type Step struct {
	Response *model.Response
	Err      error
}

// Scripted replays steps in order and records every request it sees.
type Scripted struct {
	name string

	mu       sync.Mutex
	steps    []Step
	requests []*model.Request
	down     bool
}

// New returns a scripted model that replies with steps in order.
func New(name string, steps ...Step) *Scripted {
	return &Scripted{name: name, steps: steps}
}

// Text is a step answering directly.
func Text(content string) Step {
	return Step{Response: &model.Response{
		Message: model.Message{Role: model.RoleAssistant, Content: content},
		Model:   "scripted",
	}}
}

// ToolCalls is a step proposing calls.
func ToolCalls(calls ...model.ToolCall) Step {
	return Step{Response: &model.Response{
		Message: model.Message{Role: model.RoleAssistant, ToolCalls: calls},
		Model:   "scripted",
	}}
}

// Fail is a step returning err.
func Fail(err error) Step { return Step{Err: err} }

// Call builds a tool call whose arguments are args marshaled to JSON.
func Call(id, name string, args map[string]any) model.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return model.ToolCall{ID: id, Name: name, Arguments: raw}
}

// Chat implements model.Model.
func (s *Scripted) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, cloneRequest(req))
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("%s: no scripted reply for request %d", s.name, len(s.requests))
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []*model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Request(nil), s.requests...)
}

// Remaining returns how many scripted steps are unused.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// SetAvailable toggles IsAvailable.
func (s *Scripted) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = !ok
}

// IsAvailable implements model.Model.
func (s *Scripted) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.down
}

// Name implements model.Model.
func (s *Scripted) Name() string { return s.name }

// Status implements model.Model.
func (s *Scripted) Status() *model.Status {
	return &model.Status{Name: s.name, Available: s.IsAvailable()}
}

func cloneRequest(req *model.Request) *model.Request {
	c := *req
	c.Messages = append([]model.Message(nil), req.Messages...)
	return &c
}
