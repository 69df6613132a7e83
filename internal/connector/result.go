package connector

import (
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/sparql"
)

// QueryResult is a normalized query answer. Rows is never nil for a
// SELECT, and each row has exactly one key per projected variable.
// Unbound variables map to nil.
type QueryResult struct {
	Ask     bool
	Boolean bool
	Vars    []string
	Rows    []map[string]any

	// ExecErr is set when execution failed on a loaded graph. Rows is
	// then empty, which callers treat like "no matches".
	ExecErr error
}

// Empty reports whether the result carries no answer.
func (r *QueryResult) Empty() bool {
	return !r.Ask && len(r.Rows) == 0
}

// Content is the value handed to the conversation: the row list for
// SELECT, the boolean for ASK.
func (r *QueryResult) Content() any {
	if r.Ask {
		return r.Boolean
	}
	return r.Rows
}

// Normalize converts engine bindings to plain values. IRIs under a known
// namespace become prefix:local; every other term becomes its lexical form.
func Normalize(ns *graph.Namespaces, res *sparql.Result) *QueryResult {
	if res.Form == sparql.FormAsk {
		return &QueryResult{Ask: true, Boolean: res.Boolean}
	}

	rows := make([]map[string]any, 0, len(res.Bindings))
	for _, b := range res.Bindings {
		row := make(map[string]any, len(res.Vars))
		for _, v := range res.Vars {
			t, ok := b[v]
			if !ok {
				row[v] = nil
				continue
			}
			row[v] = normalizeTerm(ns, t)
		}
		rows = append(rows, row)
	}
	return &QueryResult{Vars: res.Vars, Rows: rows}
}

func normalizeTerm(ns *graph.Namespaces, t graph.Term) string {
	if t.IsIRI() && ns != nil {
		return ns.Shorten(t.Value)
	}
	return t.Value
}
