// Package tools derives the tool set from the live graph and index, and
// dispatches model tool calls to them.
package tools

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flynn-ai/kgbridge/internal/connector"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/retrieval"
	"github.com/flynn-ai/kgbridge/internal/tools/executor"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

// Options tune derived tools.
type Options struct {
	DefaultK int
	MaxK     int
}

// Registry is an immutable tool set derived from one graph/index pair.
// It holds zero, one or two tools.
type Registry struct {
	schemas    *schemas.Registry
	validators map[string]*gojsonschema.Schema
	graph      *executor.GraphQuery
	retrieval  *executor.RetrievalSearch
}

// Derive builds the tool set: the graph query tool iff h is loaded, the
// retrieval tool iff ix exists. The graph tool is listed first.
func Derive(store *connector.GraphStore, h *graph.Handle, ix *retrieval.Index, opts Options) (*Registry, error) {
	r := &Registry{
		schemas:    schemas.NewRegistry(),
		validators: make(map[string]*gojsonschema.Schema),
	}

	if h != nil && store != nil {
		r.graph = executor.NewGraphQuery(store, h, examplePrefixes(h.Namespaces()))
		if err := r.register(r.graph); err != nil {
			return nil, err
		}
	}
	if ix != nil {
		r.retrieval = executor.NewRetrievalSearch(ix, opts.DefaultK, opts.MaxK)
		if err := r.register(r.retrieval); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Empty returns a registry with no tools.
func Empty() *Registry {
	r, _ := Derive(nil, nil, nil, Options{})
	return r
}

func (r *Registry) register(t executor.Tool) error {
	s := t.Schema()
	v, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.Parameters))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", s.Name, err)
	}
	r.schemas.Register(s)
	r.validators[s.Name] = v
	return nil
}

// examplePrefixes lists the default domain prefix followed by rdf, rdfs
// and owl, as named in the graph tool description.
func examplePrefixes(ns *graph.Namespaces) []string {
	if ns == nil {
		return nil
	}
	bindings := ns.Bindings()
	if len(bindings) == 0 {
		return nil
	}
	out := []string{bindings[0].Prefix}
	for _, p := range []string{"rdf", "rdfs", "owl"} {
		if _, ok := ns.Lookup(p); ok && p != bindings[0].Prefix {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int { return r.schemas.Len() }

// Names returns the tool names in offer order.
func (r *Registry) Names() []string { return r.schemas.List() }

// Has reports whether name is currently offered.
func (r *Registry) Has(name string) bool {
	_, ok := r.schemas.Get(name)
	return ok
}

// Schemas returns the schema registry.
func (r *Registry) Schemas() *schemas.Registry { return r.schemas }

// Specs returns the wire description of every tool in offer order.
func (r *Registry) Specs() []protocol.ToolSpec {
	all := r.schemas.All()
	out := make([]protocol.ToolSpec, 0, len(all))
	for _, s := range all {
		out = append(out, s.Spec())
	}
	return out
}

// ToOpenAIFormat returns all schemas in OpenAI function calling format.
func (r *Registry) ToOpenAIFormat() []map[string]any {
	return r.schemas.ToOpenAIFormat()
}
