// Package retrieval chunks ontology sources and builds similarity indexes
// over the chunks.
package retrieval

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder converts text into vectors.
type Embedder interface {
	Name() string
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Preparer is implemented by embedders whose vector space is derived from
// the corpus itself. Prepare runs once per build, before any embedding.
type Preparer interface {
	Prepare(corpus []string) error
}

// LangchainEmbedder adapts a langchaingo embedder.
type LangchainEmbedder struct {
	name string
	impl *embeddings.EmbedderImpl
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI embeddings
// API. An empty apiKey fails here, so a missing credential is reported
// once at startup.
func NewOpenAIEmbedder(apiKey, baseURL, model string) (*LangchainEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangchainEmbedder(llm, "openai/"+model)
}

// NewLangchainEmbedder wraps any langchaingo embedding client.
func NewLangchainEmbedder(client embeddings.EmbedderClient, name string) (*LangchainEmbedder, error) {
	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(64),
		embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &LangchainEmbedder{name: name, impl: impl}, nil
}

func (e *LangchainEmbedder) Name() string { return e.name }

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.impl.EmbedDocuments(ctx, texts)
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.impl.EmbedQuery(ctx, text)
}
