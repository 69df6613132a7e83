package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/kgbridge/internal/config"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/ontology"
	"github.com/flynn-ai/kgbridge/internal/testutil"
)

// keywordClient embeds text as counts of a fixed keyword list and counts
// how many texts it was asked to embed.
type keywordClient struct {
	keywords []string
	calls    atomic.Int64
	err      error
	delay    time.Duration
}

func (c *keywordClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	c.calls.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(c.keywords))
		lower := strings.ToLower(t)
		for j, k := range c.keywords {
			v[j] = float32(strings.Count(lower, k))
		}
		out[i] = v
	}
	return out, nil
}

func newKeywordEmbedder(t *testing.T, client *keywordClient) *LangchainEmbedder {
	t.Helper()
	emb, err := NewLangchainEmbedder(client, "keywords")
	require.NoError(t, err)
	return emb
}

func retrievalConfig() config.RetrievalConfig {
	return config.Default().Retrieval
}

func words(n int) string {
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "w%04d ", i)
	}
	return b.String()
}

func TestChunkerRespectsSizeAndOverlap(t *testing.T) {
	c := NewChunker(1000, 200)

	chunks, err := c.Split(words(500))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 1000)
	}
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], first, "chunk %d should start inside the previous chunk", i)
	}
}

func TestChunkerFallsBackToCharacters(t *testing.T) {
	c := NewChunker(1000, 200)

	chunks, err := c.Split(strings.Repeat("x", 2500))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 1000)
	}
}

func TestChunkerDropsBlankInput(t *testing.T) {
	chunks, err := NewChunker(1000, 200).Split("   \n\n  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestTFIDFEmbedder(t *testing.T) {
	e := NewTFIDFEmbedder()
	_, err := e.EmbedQuery(context.Background(), "brake")
	require.Error(t, err)

	corpus := []string{
		"dvt:brake1 dvt:status \"faulty\"",
		"dvt:wiper1 dvt:status \"ok\"",
		"dvt:Vehicle rdfs:comment \"A road vehicle\"",
	}
	require.NoError(t, e.Prepare(corpus))

	docs, err := e.EmbedDocuments(context.Background(), corpus)
	require.NoError(t, err)
	q, err := e.EmbedQuery(context.Background(), "which brake is faulty")
	require.NoError(t, err)

	assert.Greater(t, cosine(docs[0], norm(docs[0]), q, norm(q)), cosine(docs[1], norm(docs[1]), q, norm(q)))
	assert.InDelta(t, 1.0, norm(docs[2]), 1e-6)

	assert.Error(t, NewTFIDFEmbedder().Prepare(nil))
	assert.Error(t, NewTFIDFEmbedder().Prepare([]string{"the and of"}))
}

func TestTFIDFSplitsIdentifiers(t *testing.T) {
	e := NewTFIDFEmbedder()
	assert.Equal(t, []string{"component", "vehicle", "1"}, e.tokenize("hasComponent vehicle1"))
}

func TestBuildAndSearch(t *testing.T) {
	path := testutil.WriteFile(t, "vehicles.ttl", testutil.VehicleTurtle)
	src, err := ontology.Open(path)
	require.NoError(t, err)

	cfg := retrievalConfig()
	cfg.ChunkSize = 120
	cfg.ChunkOverlap = 20
	b := NewBuilder(cfg, func() (Embedder, error) { return NewTFIDFEmbedder(), nil }, time.Minute, nil)

	ix, err := b.Build(context.Background(), src)
	require.NoError(t, err)
	require.Greater(t, ix.Len(), 4)
	assert.Equal(t, "tfidf", ix.Embedder())

	docs, err := ix.Search(context.Background(), "faulty brake status", 4)
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Contains(t, docs[0].PageContent, "faulty")
	assert.Equal(t, map[string]any{"source": path}, docs[0].Metadata)
}

func TestSearchKRules(t *testing.T) {
	client := &keywordClient{keywords: []string{"brake", "wiper"}}
	emb := newKeywordEmbedder(t, client)

	var chunks []Chunk
	var texts []string
	for i := range 12 {
		text := fmt.Sprintf("wiper note %d", i)
		if i == 7 {
			text = "brake brake"
		}
		texts = append(texts, text)
		chunks = append(chunks, Chunk{Text: text, Source: "s.ttl", Seq: i})
	}
	vectors, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	ix := newIndex(chunks, vectors, emb, 10)

	docs, err := ix.Search(context.Background(), "brake", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "brake brake", docs[0].PageContent)

	docs, err = ix.Search(context.Background(), "brake", 50)
	require.NoError(t, err)
	assert.Len(t, docs, 10)

	docs, err = ix.Search(context.Background(), "wiper", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"wiper note 0", "wiper note 1", "wiper note 2"},
		[]string{docs[0].PageContent, docs[1].PageContent, docs[2].PageContent})

	_, err = ix.Search(context.Background(), "brake", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))
}

func TestSearchAbsentIndex(t *testing.T) {
	var ix *Index
	_, err := ix.Search(context.Background(), "anything", 4)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotInitialized))
	assert.Equal(t, 0, ix.Len())
}

func TestSearchEmbedderFailure(t *testing.T) {
	client := &keywordClient{keywords: []string{"brake"}}
	emb := newKeywordEmbedder(t, client)
	vectors, err := emb.EmbedDocuments(context.Background(), []string{"brake"})
	require.NoError(t, err)
	ix := newIndex([]Chunk{{Text: "brake"}}, vectors, emb, 10)

	client.err = errors.New("503 from backend")
	_, err = ix.Search(context.Background(), "brake", 4)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSearchError))
}

func TestBuildFailsSoftly(t *testing.T) {
	cfg := retrievalConfig()
	tfidf := func() (Embedder, error) { return NewTFIDFEmbedder(), nil }

	t.Run("missing file", func(t *testing.T) {
		b := NewBuilder(cfg, tfidf, 0, nil)
		ix, err := b.Build(context.Background(), &ontology.Source{Path: "/nonexistent/x.ttl", Name: "x.ttl"})
		assert.Nil(t, ix)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeBuildError))
	})

	t.Run("empty file", func(t *testing.T) {
		src, err := ontology.Open(testutil.WriteFile(t, "empty.ttl", "\n\n"))
		require.NoError(t, err)
		ix, err := NewBuilder(cfg, tfidf, 0, nil).Build(context.Background(), src)
		assert.Nil(t, ix)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeBuildError))
	})

	t.Run("embedder unavailable", func(t *testing.T) {
		src, err := ontology.Open(testutil.WriteFile(t, "v.ttl", testutil.VehicleTurtle))
		require.NoError(t, err)
		client := &keywordClient{keywords: []string{"x"}, err: errors.New("connection refused")}
		b := NewBuilder(cfg, func() (Embedder, error) { return newKeywordEmbedder(t, client), nil }, 0, nil)
		ix, err := b.Build(context.Background(), src)
		assert.Nil(t, ix)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeBuildError))
	})

	t.Run("embedding timeout", func(t *testing.T) {
		src, err := ontology.Open(testutil.WriteFile(t, "v.ttl", testutil.VehicleTurtle))
		require.NoError(t, err)
		client := &keywordClient{keywords: []string{"x"}, delay: time.Second}
		b := NewBuilder(cfg, func() (Embedder, error) { return newKeywordEmbedder(t, client), nil }, 10*time.Millisecond, nil)
		ix, err := b.Build(context.Background(), src)
		assert.Nil(t, ix)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeBuildError))
		assert.True(t, apperrors.HasCode(err, apperrors.CodeBackendTimeout))
	})

	t.Run("no factory", func(t *testing.T) {
		src, err := ontology.Open(testutil.WriteFile(t, "v.ttl", testutil.VehicleTurtle))
		require.NoError(t, err)
		ix, err := NewBuilder(cfg, nil, 0, nil).Build(context.Background(), src)
		assert.Nil(t, ix)
		assert.Error(t, err)
	})
}

func TestCacheServesRepeatedChunks(t *testing.T) {
	cache, err := OpenMemoryCache(nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	client := &keywordClient{keywords: []string{"brake", "wiper"}}
	emb := cache.Wrap(newKeywordEmbedder(t, client))

	first, err := emb.EmbedDocuments(context.Background(), []string{"brake", "wiper"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.calls.Load())

	second, err := emb.EmbedDocuments(context.Background(), []string{"wiper", "brake wiper", "brake"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), client.calls.Load(), "only the unseen chunk is embedded")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, []float32{1, 1}, second[1])
}

func TestCacheSkipsCorpusFittedEmbedders(t *testing.T) {
	cache, err := OpenMemoryCache(nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	e := NewTFIDFEmbedder()
	assert.Same(t, e, cache.Wrap(e))
}

func TestNewEmbedderFactory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := retrievalConfig()

	cfg.Embedder = string(config.EmbedderTFIDF)
	f, err := NewEmbedderFactory(cfg, "", nil)
	require.NoError(t, err)
	a, _ := f()
	b, _ := f()
	assert.NotSame(t, a, b)

	cfg.Embedder = string(config.EmbedderOpenAI)
	_, err = NewEmbedderFactory(cfg, "", nil)
	assert.Error(t, err, "a missing API key disables retrieval at startup")

	f, err = NewEmbedderFactory(cfg, "sk-test", nil)
	require.NoError(t, err)
	e, err := f()
	require.NoError(t, err)
	assert.Equal(t, "openai/"+cfg.EmbeddingModel, e.Name())

	cfg.Embedder = "word2vec"
	_, err = NewEmbedderFactory(cfg, "sk-test", nil)
	assert.Error(t, err)
}
