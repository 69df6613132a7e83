// Package mcpserver exposes the currently derived tools over the Model
// Context Protocol. The tool list follows the published snapshot.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/tools"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

const (
	serverName        = "kgbridge"
	readHeaderTimeout = 10 * time.Second
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// Server mirrors the bridge's tool registry onto an MCP server.
type Server struct {
	mcp     *mcp.Server
	bridge  *bridge.Bridge
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	active []string
}

// New creates the MCP server and subscribes it to snapshot publishes.
// toolTimeout bounds each call; zero leaves calls bounded by the client.
func New(b *bridge.Bridge, toolTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: serverName, Version: Version}, nil),
		bridge:  b,
		timeout: toolTimeout,
		logger:  logger,
	}
	s.sync(b.Snapshot())
	b.OnPublish(func(_ context.Context, snap *bridge.Snapshot) { s.sync(snap) })
	return s
}

// MCP returns the underlying server, for callers that bring their own
// transport.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Tools returns the names currently registered with the MCP server.
func (s *Server) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.active)
}

// RunStdio serves a single client over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns a streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// ServeHTTP serves the streamable HTTP transport on addr until ctx is
// canceled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("starting MCP server", "addr", listener.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("MCP server stopped: %w", err)
	case <-ctx.Done():
	}
	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("MCP server shutdown failed: %w", err)
	}
	<-errCh
	return nil
}

// sync makes the registered tools match snap exactly.
func (s *Server) sync(snap *bridge.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := snap.Tools.Names()
	var stale []string
	for _, name := range s.active {
		if !slices.Contains(next, name) {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveTools(stale...)
	}
	for _, schema := range snap.Tools.Schemas().All() {
		s.mcp.AddTool(&mcp.Tool{
			Name:        schema.Name,
			Description: schema.Description,
			InputSchema: schema.Parameters,
		}, s.handle(schema.Name))
	}
	s.active = next

	s.logger.Debug("MCP tools synced", "generation", snap.Generation, "tools", next, "removed", stale)
}

// handle runs name against whatever snapshot is current when the call
// arrives. A tool withdrawn since the client listed it fails like any
// other unavailable tool.
func (s *Server) handle(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := s.bridge.Snapshot()
		d := tools.NewDispatcher(snap.Tools, s.timeout, s.logger)
		res := d.Execute(ctx, protocol.ToolCallRequest{
			ID:        "mcp_" + uuid.NewString(),
			Name:      name,
			Arguments: req.Params.Arguments,
		})
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: !res.Success,
		}, nil
	}
}
