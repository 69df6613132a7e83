package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flynn-ai/kgbridge/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the ontology tools over the Model Context Protocol",
		Long: `Serve the currently derived tools to MCP clients. The tool list follows
the loaded source: the graph tool appears once a graph is loaded, the
retrieval tool once the index is built.

By default the server speaks over stdin and stdout. --http serves the
streamable HTTP transport instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := mcpserver.New(rt.bridge, rt.cfg.ToolTimeout(), rt.logger)
			if _, err := rt.loadSource(ctx, false); err != nil {
				return err
			}

			if httpAddr != "" {
				return srv.ServeHTTP(ctx, httpAddr)
			}
			return srv.RunStdio(ctx)
		},
	}
	addSourceFlag(cmd, false)
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve streamable HTTP on this address instead of stdio")
	return cmd
}
