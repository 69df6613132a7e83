package executor

import (
	"context"
	"time"

	"github.com/flynn-ai/kgbridge/internal/connector"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
)

// GraphQuery runs SPARQL against one loaded graph.
type GraphQuery struct {
	store  *connector.GraphStore
	handle *graph.Handle
	schema *schemas.Schema
}

// NewGraphQuery binds the tool to a graph handle. A nil handle is allowed
// and yields NOT_LOADED on every call.
func NewGraphQuery(store *connector.GraphStore, handle *graph.Handle, prefixes []string) *GraphQuery {
	return &GraphQuery{
		store:  store,
		handle: handle,
		schema: schemas.GraphQuery(prefixes...),
	}
}

func (t *GraphQuery) Name() string { return schemas.GraphQueryTool }

func (t *GraphQuery) Schema() *schemas.Schema { return t.schema }

// Run executes query. A failed execution on a loaded graph is a successful
// call with an empty row list; the store has already logged it.
func (t *GraphQuery) Run(ctx context.Context, query string) *Result {
	start := time.Now()

	res, err := t.store.Query(ctx, t.handle, query)
	if err != nil {
		return TimedResult(NewErrorResult(err), start)
	}
	return TimedResult(NewSuccessResult(res.Content()), start)
}
