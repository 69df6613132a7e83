package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flynn-ai/kgbridge/internal/server"
	"github.com/flynn-ai/kgbridge/internal/watch"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		watchDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve uploads and questions over HTTP",
		Long: `Start the HTTP surface: POST /upload-ontology, POST /chat, GET /tools,
GET /status, GET /history, GET /metrics and GET /healthz.

With --watch, ontology files written into the directory are loaded as
they appear; the newest one becomes the active source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr != "" {
				rt.cfg.Server.Addr = addr
			}

			if _, err := rt.loadSource(ctx, false); err != nil {
				return err
			}

			srv := server.New(server.Options{
				Config: rt.cfg,
				Bridge: rt.bridge,
				Agent:  rt.agent,
				Ledger: rt.ledger,
				Usage:  rt.router.Usage(),
				Logger: rt.logger,
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Serve(ctx) })
			if watchDir != "" {
				w := watch.New(watchDir, rt.cfg.Upload.AllowedExtensions, rt.bridge, 0, rt.logger)
				g.Go(func() error { return w.Run(ctx) })
			}
			return g.Wait()
		},
	}
	addSourceFlag(cmd, false)
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch for ontology files")
	return cmd
}

// signalContext cancels on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
