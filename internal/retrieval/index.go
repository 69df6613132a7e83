package retrieval

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"time"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

// Chunk is one indexed window of the source text.
type Chunk struct {
	Text   string
	Source string
	Seq    int
}

// Document is a search hit as handed to the conversation.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// Index is an immutable similarity index over the chunks of one source.
// A nil *Index is the absent index.
type Index struct {
	chunks   []Chunk
	vectors  [][]float32
	norms    []float64
	embedder Embedder
	maxK     int
	builtAt  time.Time
}

func newIndex(chunks []Chunk, vectors [][]float32, embedder Embedder, maxK int) *Index {
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		norms[i] = norm(v)
	}
	return &Index{
		chunks:   chunks,
		vectors:  vectors,
		norms:    norms,
		embedder: embedder,
		maxK:     maxK,
		builtAt:  time.Now(),
	}
}

// Len returns the number of chunks.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

// MaxK is the largest k a search will honour.
func (ix *Index) MaxK() int { return ix.maxK }

// Embedder returns the embedder the index was built with.
func (ix *Index) Embedder() string { return ix.embedder.Name() }

// BuiltAt returns when the index was built.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// Search returns up to k chunks ranked by descending cosine similarity to
// query. k above MaxK is capped; k below 1 is rejected. Equal scores keep
// document order.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if ix == nil {
		return nil, apperrors.NotInitialized()
	}
	if k < 1 {
		return nil, apperrors.User(apperrors.CodeInvalidInput, "k must be at least 1")
	}
	k = min(k, ix.maxK, len(ix.chunks))

	qv, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.BackendTimeout("retrieval search", err)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeSearchError, "retrieval search failed", apperrors.CategoryTemporary)
	}
	qn := norm(qv)

	type scored struct {
		idx   int
		score float64
	}
	hits := make([]scored, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = scored{idx: i, score: cosine(v, ix.norms[i], qv, qn)}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	docs := make([]Document, 0, k)
	for _, h := range hits[:k] {
		c := ix.chunks[h.idx]
		docs = append(docs, Document{
			PageContent: c.Text,
			Metadata:    map[string]any{"source": c.Source},
		})
	}
	return docs, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
