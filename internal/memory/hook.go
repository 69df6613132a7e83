package memory

import (
	"context"
	"log/slog"

	"github.com/flynn-ai/kgbridge/internal/bridge"
)

// PublishHook returns a bridge hook that records every published
// snapshot. Ledger failures are logged and never fail the upload.
func (s *Store) PublishHook(logger *slog.Logger) bridge.Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, snap *bridge.Snapshot) {
		u := &Upload{
			Generation:  snap.Generation,
			GraphLoaded: snap.HasGraph(),
			Chunks:      snap.Index.Len(),
			Tools:       snap.Tools.Names(),
		}
		if src := snap.Source; src != nil {
			u.SourceID = src.ID
			u.FileName = src.Name
			u.Format = string(src.Format)
			u.SizeBytes = src.SizeBytes
		}
		if snap.HasGraph() {
			u.Triples = snap.Graph.Len()
		}
		if snap.GraphErr != nil {
			u.Error = snap.GraphErr.Error()
		}
		if err := s.RecordUpload(ctx, u); err != nil {
			logger.Warn("failed to record upload", "generation", snap.Generation, "error", err)
		}
	}
}
