// Package bridge owns the active ontology source and everything derived
// from it: the parsed graph, the retrieval index and the tool set.
//
// State is published as immutable snapshots. A rebuild happens off to the
// side and becomes visible with a single atomic store, so readers observe
// either the previous generation or the new one, never a mix. Uploads are
// serialized; queries keep running against the previous generation until
// the swap.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flynn-ai/kgbridge/internal/connector"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/ontology"
	"github.com/flynn-ai/kgbridge/internal/retrieval"
	"github.com/flynn-ai/kgbridge/internal/stats"
	"github.com/flynn-ai/kgbridge/internal/tools"
)

// Snapshot is one published generation. It is never modified after it is
// published.
type Snapshot struct {
	Generation uint64
	Source     *ontology.Source
	Graph      *graph.Handle
	Index      *retrieval.Index
	Tools      *tools.Registry
	GraphErr   error
	IndexErr   error
	BuiltAt    time.Time
}

// HasGraph reports whether the graph loaded for this generation.
func (s *Snapshot) HasGraph() bool { return s != nil && s.Graph != nil }

// HasIndex reports whether the retrieval index exists for this generation.
func (s *Snapshot) HasIndex() bool { return s != nil && s.Index != nil }

// Hook is called after every publish, in registration order.
type Hook func(ctx context.Context, snap *Snapshot)

// Options configures a Bridge.
type Options struct {
	Store *connector.GraphStore
	// Builder is nil when retrieval is disabled.
	Builder *retrieval.Builder
	Tools   tools.Options
	Logger  *slog.Logger
}

// Bridge holds the current snapshot.
type Bridge struct {
	store    *connector.GraphStore
	builder  *retrieval.Builder
	toolOpts tools.Options
	logger   *slog.Logger

	uploadMu sync.Mutex
	current  atomic.Pointer[Snapshot]

	hooksMu sync.RWMutex
	hooks   []Hook
}

// New creates a bridge with an empty generation-zero snapshot.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		store:    opts.Store,
		builder:  opts.Builder,
		toolOpts: opts.Tools,
		logger:   logger,
	}
	b.current.Store(&Snapshot{Tools: tools.Empty(), BuiltAt: time.Now()})
	return b
}

// Snapshot returns the current generation. It never returns nil.
func (b *Bridge) Snapshot() *Snapshot { return b.current.Load() }

// Store returns the graph store used for loading and querying.
func (b *Bridge) Store() *connector.GraphStore { return b.store }

// OnPublish registers h. Hooks run synchronously while the upload lock
// is held, so they must not call Upload.
func (b *Bridge) OnPublish(h Hook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, h)
}

// Upload opens path as the new active source and rebuilds everything
// derived from it. The returned error is the graph outcome; a retrieval
// failure only shows up as the snapshot's IndexErr.
func (b *Bridge) Upload(ctx context.Context, path string) (*Snapshot, error) {
	src, err := ontology.Open(path)
	if err != nil {
		b.uploadMu.Lock()
		defer b.uploadMu.Unlock()
		snap := b.publish(ctx, &Snapshot{GraphErr: err, Tools: tools.Empty()})
		b.logger.Warn("ontology source rejected", "path", path, "error", err)
		return snap, err
	}
	return b.Ingest(ctx, src)
}

// Ingest rebuilds from an already opened source. Graph load and index
// build run concurrently; neither affects the other's outcome. When ctx
// is canceled mid-build nothing is published.
func (b *Bridge) Ingest(ctx context.Context, src *ontology.Source) (*Snapshot, error) {
	b.uploadMu.Lock()
	defer b.uploadMu.Unlock()

	start := time.Now()
	var (
		h                  *graph.Handle
		ix                 *retrieval.Index
		graphErr, indexErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		h, graphErr = b.store.Load(ctx, src)
		return nil
	})
	if b.builder != nil {
		g.Go(func() error {
			ix, indexErr = b.builder.Build(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		b.logger.Warn("rebuild abandoned", "source", src.Name, "error", err)
		return b.Snapshot(), err
	}

	stats.RecordRebuild("graph", graphErr)
	if b.builder != nil {
		stats.RecordRebuild("index", indexErr)
	}

	reg, err := tools.Derive(b.store, h, ix, b.toolOpts)
	if err != nil {
		return b.Snapshot(), apperrors.Wrap(err, apperrors.CodeBuildError, "could not derive tools", apperrors.CategorySystem)
	}

	snap := b.publish(ctx, &Snapshot{
		Source:   src,
		Graph:    h,
		Index:    ix,
		Tools:    reg,
		GraphErr: graphErr,
		IndexErr: indexErr,
	})

	b.logger.Info("snapshot published",
		"generation", snap.Generation,
		"source", src.Name,
		"graph", snap.HasGraph(),
		"chunks", ix.Len(),
		"tools", reg.Names(),
		"duration", time.Since(start))
	return snap, graphErr
}

// publish assigns the next generation and swaps snap in. The caller holds
// uploadMu.
func (b *Bridge) publish(ctx context.Context, snap *Snapshot) *Snapshot {
	snap.Generation = b.current.Load().Generation + 1
	snap.BuiltAt = time.Now()
	b.current.Store(snap)
	stats.SetActive(snap.Generation, snap.Tools.Len())

	b.hooksMu.RLock()
	hooks := append([]Hook(nil), b.hooks...)
	b.hooksMu.RUnlock()
	for _, h := range hooks {
		h(context.WithoutCancel(ctx), snap)
	}
	return snap
}
