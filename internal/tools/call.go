package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

// Call is a decoded tool call. The set of variants is closed.
type Call interface {
	CallID() string
	ToolName() string
	isCall()
}

// GraphQueryCall runs a structured query on the loaded graph.
type GraphQueryCall struct {
	ID    string
	Query string
}

// RetrievalCall runs a similarity search on the retrieval index.
type RetrievalCall struct {
	ID   string
	Text string
	K    int
}

// UnknownCall names a tool that is not currently offered.
type UnknownCall struct {
	ID   string
	Name string
}

// UnavailableCall names a known tool whose backend is absent, such as the
// graph tool before any source is loaded.
type UnavailableCall struct {
	ID   string
	Name string
	Err  error
}

// MalformedCall names an offered tool with arguments that failed to parse
// or validate.
type MalformedCall struct {
	ID   string
	Name string
	Err  error
}

func (c GraphQueryCall) CallID() string   { return c.ID }
func (c GraphQueryCall) ToolName() string { return schemas.GraphQueryTool }
func (GraphQueryCall) isCall()            {}

func (c RetrievalCall) CallID() string   { return c.ID }
func (c RetrievalCall) ToolName() string { return schemas.RetrievalTool }
func (RetrievalCall) isCall()            {}

func (c UnknownCall) CallID() string   { return c.ID }
func (c UnknownCall) ToolName() string { return c.Name }
func (UnknownCall) isCall()            {}

func (c UnavailableCall) CallID() string   { return c.ID }
func (c UnavailableCall) ToolName() string { return c.Name }
func (UnavailableCall) isCall()            {}

func (c MalformedCall) CallID() string   { return c.ID }
func (c MalformedCall) ToolName() string { return c.Name }
func (MalformedCall) isCall()            {}

// Decode validates req against the registry and returns its typed form.
// It never fails: problems become UnknownCall, UnavailableCall or
// MalformedCall.
func (r *Registry) Decode(req protocol.ToolCallRequest) Call {
	if !r.Has(req.Name) {
		switch req.Name {
		case schemas.GraphQueryTool:
			return UnavailableCall{ID: req.ID, Name: req.Name, Err: apperrors.NotLoaded()}
		case schemas.RetrievalTool:
			return UnavailableCall{ID: req.ID, Name: req.Name, Err: apperrors.NotInitialized()}
		}
		return UnknownCall{ID: req.ID, Name: req.Name}
	}

	args := bytes.TrimSpace(req.Arguments)
	if len(args) == 0 {
		args = []byte("{}")
	}
	var probe map[string]any
	if err := json.Unmarshal(args, &probe); err != nil {
		return MalformedCall{ID: req.ID, Name: req.Name,
			Err: apperrors.InvalidToolCall("arguments for %s are not a valid JSON object", req.Name)}
	}

	if err := r.validate(req.Name, args); err != nil {
		return MalformedCall{ID: req.ID, Name: req.Name, Err: err}
	}

	switch req.Name {
	case schemas.GraphQueryTool:
		var a struct {
			Query string `json:"sparql_query"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return MalformedCall{ID: req.ID, Name: req.Name, Err: apperrors.InvalidToolCall("bad arguments for %s", req.Name)}
		}
		return GraphQueryCall{ID: req.ID, Query: a.Query}

	case schemas.RetrievalTool:
		var a struct {
			Text string   `json:"query_text"`
			K    *float64 `json:"k"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return MalformedCall{ID: req.ID, Name: req.Name, Err: apperrors.InvalidToolCall("bad arguments for %s", req.Name)}
		}
		if strings.TrimSpace(a.Text) == "" {
			return MalformedCall{ID: req.ID, Name: req.Name, Err: apperrors.InvalidToolCall("query_text must not be empty")}
		}
		k := r.retrieval.DefaultK()
		if a.K != nil {
			// Clamp before converting so huge values cannot overflow int.
			k = int(min(*a.K, float64(r.retrieval.MaxK())))
		}
		return RetrievalCall{ID: req.ID, Text: a.Text, K: k}
	}

	return UnknownCall{ID: req.ID, Name: req.Name}
}

func (r *Registry) validate(name string, args []byte) error {
	v, ok := r.validators[name]
	if !ok {
		return nil
	}
	res, err := v.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return apperrors.InvalidToolCall("arguments for %s are not valid JSON", name)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return apperrors.InvalidToolCall("invalid arguments for %s: %s", name, strings.Join(msgs, "; "))
}
