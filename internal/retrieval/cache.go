package retrieval

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	cacheKeyPrefix  = "emb/v1/"
	cacheDefaultTTL = 30 * 24 * time.Hour
)

// Cache persists chunk embeddings across re-uploads of unchanged text.
// Keys are the embedder name plus the SHA256 of the chunk.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// OpenCache opens a cache in dir.
func OpenCache(dir string, logger *slog.Logger) (*Cache, error) {
	return openCache(badger.DefaultOptions(dir).WithLogger(nil), logger)
}

// OpenMemoryCache opens a cache that lives only as long as the process.
func OpenMemoryCache(logger *slog.Logger) (*Cache, error) {
	return openCache(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), logger)
}

func openCache(opts badger.Options, logger *slog.Logger) (*Cache, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, ttl: cacheDefaultTTL, logger: logger}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Wrap returns e with document embeddings served from the cache where
// possible. Corpus-fitted embedders are returned unchanged since their
// vectors depend on the whole corpus.
func (c *Cache) Wrap(e Embedder) Embedder {
	if _, ok := e.(Preparer); ok {
		return e
	}
	return &cachedEmbedder{Embedder: e, cache: c}
}

func (c *Cache) key(model, text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(cacheKeyPrefix + model + "/" + hex.EncodeToString(sum[:]))
}

// lookup returns the cached vector for each text, nil on miss.
func (c *Cache) lookup(model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	err := c.db.View(func(txn *badger.Txn) error {
		for i, text := range texts {
			item, err := txn.Get(c.key(model, text))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get cache key: %w", err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value: %w", err)
			}
			var v []float32
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
				c.logger.Warn("embedding cache: undecodable entry", "error", err)
				continue
			}
			out[i] = v
		}
		return nil
	})
	return out, err
}

func (c *Cache) store(model string, texts []string, vectors [][]float32) error {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for i, text := range texts {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(vectors[i]); err != nil {
			return fmt.Errorf("gob encode: %w", err)
		}
		if err := wb.SetEntry(badger.NewEntry(c.key(model, text), buf.Bytes()).WithTTL(c.ttl)); err != nil {
			return fmt.Errorf("set cache entry: %w", err)
		}
	}
	return wb.Flush()
}

type cachedEmbedder struct {
	Embedder
	cache *Cache
}

func (e *cachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.Name()
	out, err := e.cache.lookup(model, texts)
	if err != nil {
		e.cache.logger.Warn("embedding cache: lookup failed", "error", err)
		return e.Embedder.EmbedDocuments(ctx, texts)
	}

	var missIdx []int
	var missing []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missing = append(missing, texts[i])
		}
	}
	e.cache.logger.Debug("embedding cache",
		"model", model,
		"hits", len(texts)-len(missing),
		"misses", len(missing))
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := e.Embedder.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missing))
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
	}
	if err := e.cache.store(model, missing, fresh); err != nil {
		e.cache.logger.Warn("embedding cache: store failed", "error", err)
	}
	return out, nil
}
