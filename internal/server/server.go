// Package server is the HTTP surface of the bridge.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/flynn-ai/kgbridge/internal/agent"
	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/config"
	"github.com/flynn-ai/kgbridge/internal/cost"
	"github.com/flynn-ai/kgbridge/internal/memory"
	"github.com/flynn-ai/kgbridge/internal/stats"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Options wires the server to the rest of the bridge.
type Options struct {
	Config *config.Config
	Bridge *bridge.Bridge
	Agent  *agent.Orchestrator
	// Ledger is optional. Without it /history returns an empty list.
	Ledger *memory.Store
	// Usage is optional and reported on /status.
	Usage  *cost.Tracker
	Logger *slog.Logger
}

// Server serves uploads, questions and status over HTTP.
type Server struct {
	cfg     *config.Config
	bridge  *bridge.Bridge
	agent   *agent.Orchestrator
	ledger  *memory.Store
	usage   *cost.Tracker
	stats   *stats.Collector
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a server. Config, Bridge and Agent are required.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.Config.Server.ChatRatePerSec > 0 {
		limit = rate.Limit(opts.Config.Server.ChatRatePerSec)
	}
	return &Server{
		cfg:     opts.Config,
		bridge:  opts.Bridge,
		agent:   opts.Agent,
		ledger:  opts.Ledger,
		usage:   opts.Usage,
		stats:   opts.Agent.Stats(),
		limiter: rate.NewLimiter(limit, max(opts.Config.Server.ChatBurst, 1)),
		logger:  opts.Logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.logRequests,
	)

	r.Post("/upload-ontology", s.upload)
	r.Post("/chat", s.chat)
	r.Get("/tools", s.tools)
	r.Get("/status", s.status)
	r.Get("/history", s.history)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Serve listens on the configured address until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an existing listener, capping concurrent
// connections at the configured maximum.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	if n := s.cfg.Server.MaxConnections; n > 0 {
		listener = netutil.LimitListener(listener, n)
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("starting HTTP server", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-errCh
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
