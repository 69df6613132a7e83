package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flynn-ai/kgbridge/internal/config"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/ontology"
)

// EmbedderFactory returns the embedder for one build. Corpus-fitted
// embedders must come back fresh on every call.
type EmbedderFactory func() (Embedder, error)

// Builder turns an ontology source into an Index.
type Builder struct {
	chunker     *Chunker
	newEmbedder EmbedderFactory
	maxK        int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewBuilder creates a builder. timeout bounds the embedding of one build;
// zero means no bound beyond ctx.
func NewBuilder(cfg config.RetrievalConfig, newEmbedder EmbedderFactory, timeout time.Duration, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		chunker:     NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		newEmbedder: newEmbedder,
		maxK:        cfg.MaxK,
		timeout:     timeout,
		logger:      logger,
	}
}

// Build reads src, chunks it, and embeds every chunk. Failures come back
// as BUILD_ERROR with a nil index, which callers treat as "retrieval
// unavailable" rather than a hard error.
func (b *Builder) Build(ctx context.Context, src *ontology.Source) (*Index, error) {
	if src == nil {
		return nil, b.fail(nil, errors.New("no source"))
	}
	start := time.Now()

	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, b.fail(src, err)
	}
	texts, err := b.chunker.Split(string(raw))
	if err != nil {
		return nil, b.fail(src, fmt.Errorf("split text: %w", err))
	}
	if len(texts) == 0 {
		return nil, b.fail(src, errors.New("source has no text"))
	}

	if b.newEmbedder == nil {
		return nil, b.fail(src, errors.New("no embedder configured"))
	}
	emb, err := b.newEmbedder()
	if err != nil {
		return nil, b.fail(src, fmt.Errorf("create embedder: %w", err))
	}
	if p, ok := emb.(Preparer); ok {
		if err := p.Prepare(texts); err != nil {
			return nil, b.fail(src, fmt.Errorf("prepare embedder: %w", err))
		}
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.BackendTimeout("embedding", err)
		}
		return nil, b.fail(src, err)
	}
	if len(vectors) != len(texts) {
		return nil, b.fail(src, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts)))
	}

	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Text: t, Source: src.Path, Seq: i}
	}

	b.logger.Info("retrieval index built",
		"source", src.Name,
		"chunks", len(chunks),
		"embedder", emb.Name(),
		"duration", time.Since(start))
	return newIndex(chunks, vectors, emb, b.maxK), nil
}

func (b *Builder) fail(src *ontology.Source, err error) error {
	path := ""
	if src != nil {
		path = src.Path
	}
	b.logger.Warn("retrieval index unavailable", "source", path, "error", err)
	return apperrors.NewBuilder(apperrors.CodeBuildError, "retrieval index could not be built").
		Wrap(err).
		WithContext("path", path).
		Build()
}

// NewEmbedderFactory selects the embedder named by cfg. The OpenAI client
// is created once and shared; a missing API key is returned as an error so
// the caller can run without retrieval.
func NewEmbedderFactory(cfg config.RetrievalConfig, apiKey string, cache *Cache) (EmbedderFactory, error) {
	switch config.EmbedderKind(cfg.Embedder) {
	case config.EmbedderTFIDF:
		return func() (Embedder, error) { return NewTFIDFEmbedder(), nil }, nil
	case config.EmbedderOpenAI:
		emb, err := NewOpenAIEmbedder(apiKey, cfg.BaseURL, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		var shared Embedder = emb
		if cache != nil {
			shared = cache.Wrap(emb)
		}
		return func() (Embedder, error) { return shared, nil }, nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}
