package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/flynn-ai/kgbridge/internal/agent"
	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/config"
	"github.com/flynn-ai/kgbridge/internal/connector"
	"github.com/flynn-ai/kgbridge/internal/graph"
	"github.com/flynn-ai/kgbridge/internal/memory"
	"github.com/flynn-ai/kgbridge/internal/model"
	"github.com/flynn-ai/kgbridge/internal/prompt"
	"github.com/flynn-ai/kgbridge/internal/retrieval"
	"github.com/flynn-ai/kgbridge/internal/tools"
)

// runtime is the assembled bridge shared by every command.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	bridge *bridge.Bridge
	router *model.Router
	agent  *agent.Orchestrator
	ledger *memory.Store
	cache  *retrieval.Cache
	closer []func() error
}

// newRuntime loads the config and wires the bridge. Logs go to logOut.
func newRuntime(logOut *os.File) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}
	ns, err := graph.Standard(cfg.Graph.DefaultPrefix, cfg.Graph.DefaultNamespace)
	if err != nil {
		return nil, fmt.Errorf("namespace table: %w", err)
	}

	rt.bridge = bridge.New(bridge.Options{
		Store:   connector.NewGraphStore(ns, logger),
		Builder: rt.retrievalBuilder(),
		Tools:   tools.Options{DefaultK: cfg.Retrieval.DefaultK, MaxK: cfg.Retrieval.MaxK},
		Logger:  logger,
	})

	var recorder agent.Recorder
	if cfg.Audit.Enabled && !noAudit {
		ledger, err := memory.Open(cfg.Paths.AuditDB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.ledger = ledger
		rt.closer = append(rt.closer, ledger.Close)
		rt.bridge.OnPublish(ledger.PublishHook(logger))
		recorder = ledger
	}

	rt.router = model.NewFromConfig(cfg, logger)
	rt.agent = agent.New(agent.Config{
		Snapshots:             rt.bridge,
		Model:                 rt.router,
		Prompt:                prompt.NewBuilder(prompt.ModeFull),
		Namespaces:            ns,
		Recorder:              recorder,
		Logger:                logger,
		FirstTurnTemperature:  cfg.Model.FirstTurnTemperature,
		SecondTurnTemperature: cfg.Model.SecondTurnTemperature,
		MaxTokens:             cfg.Model.MaxTokens,
		MaxToolRounds:         cfg.Model.MaxToolRounds,
		ToolTimeout:           cfg.ToolTimeout(),
	})
	return rt, nil
}

// retrievalBuilder returns nil when retrieval is disabled or cannot be
// set up; the bridge then offers the graph tool alone.
func (rt *runtime) retrievalBuilder() *retrieval.Builder {
	cfg := rt.cfg
	if !cfg.Retrieval.Enabled {
		return nil
	}
	if cfg.Retrieval.CacheEmbedding && config.EmbedderKind(cfg.Retrieval.Embedder) == config.EmbedderOpenAI {
		cache, err := retrieval.OpenCache(cfg.Paths.CacheDir, rt.logger)
		if err != nil {
			rt.logger.Warn("embedding cache unavailable", "dir", cfg.Paths.CacheDir, "error", err)
		} else {
			rt.cache = cache
			rt.closer = append(rt.closer, cache.Close)
		}
	}
	factory, err := retrieval.NewEmbedderFactory(cfg.Retrieval, cfg.APIKey(), rt.cache)
	if err != nil {
		rt.logger.Warn("retrieval disabled", "embedder", cfg.Retrieval.Embedder, "error", err)
		return nil
	}
	return retrieval.NewBuilder(cfg.Retrieval, factory, cfg.EmbeddingTimeout(), rt.logger)
}

// loadSource uploads sourcePath when one was given. requireGraph turns a
// graph load failure into an error.
func (rt *runtime) loadSource(ctx context.Context, requireGraph bool) (*bridge.Snapshot, error) {
	if sourcePath == "" {
		return rt.bridge.Snapshot(), nil
	}
	snap, err := rt.bridge.Upload(ctx, sourcePath)
	if err != nil {
		if requireGraph {
			return snap, fmt.Errorf("load %s: %w", sourcePath, err)
		}
		rt.logger.Error("failed to load ontology graph", "source", sourcePath, "error", err)
	}
	return snap, nil
}

// Close releases the ledger and the embedding cache.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closer) - 1; i >= 0; i-- {
		if err := rt.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closer = nil
	return errors.Join(errs...)
}
