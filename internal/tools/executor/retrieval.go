package executor

import (
	"context"
	"time"

	"github.com/flynn-ai/kgbridge/internal/retrieval"
	"github.com/flynn-ai/kgbridge/internal/tools/schemas"
)

// RetrievalSearch runs similarity search over one retrieval index.
type RetrievalSearch struct {
	index    *retrieval.Index
	defaultK int
	maxK     int
	schema   *schemas.Schema
}

// NewRetrievalSearch binds the tool to an index. A nil index yields
// NOT_INITIALIZED on every call.
func NewRetrievalSearch(index *retrieval.Index, defaultK, maxK int) *RetrievalSearch {
	return &RetrievalSearch{
		index:    index,
		defaultK: defaultK,
		maxK:     maxK,
		schema:   schemas.Retrieval(defaultK, maxK),
	}
}

func (t *RetrievalSearch) Name() string { return schemas.RetrievalTool }

func (t *RetrievalSearch) Schema() *schemas.Schema { return t.schema }

// DefaultK is used when the call omits k.
func (t *RetrievalSearch) DefaultK() int { return t.defaultK }

// MaxK is the largest k a call can ask for.
func (t *RetrievalSearch) MaxK() int { return t.maxK }

// Run searches for text. k above the index maximum is capped.
func (t *RetrievalSearch) Run(ctx context.Context, text string, k int) *Result {
	start := time.Now()

	docs, err := t.index.Search(ctx, text, k)
	if err != nil {
		return TimedResult(NewErrorResult(err), start)
	}
	return TimedResult(NewSuccessResult(docs), start)
}
