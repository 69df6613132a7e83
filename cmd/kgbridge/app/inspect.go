package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flynn-ai/kgbridge/internal/tools"
)

func newToolsCmd() *cobra.Command {
	var openAI bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tools derived from an ontology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			snap, err := rt.loadSource(ctx, false)
			if err != nil {
				return err
			}

			var v any = snap.Tools.Specs()
			if openAI {
				v = snap.Tools.ToOpenAIFormat()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	addSourceFlag(cmd, true)
	cmd.Flags().BoolVar(&openAI, "openai", false, "Print the function-calling schemas sent to the model")
	return cmd
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "query SPARQL",
		Short:   "Run a SPARQL query against an ontology",
		Example: `  kgbridge query -s vehicles.ttl "SELECT ?v WHERE { ?v a dvt:Vehicle }"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			snap, err := rt.loadSource(ctx, true)
			if err != nil {
				return err
			}

			res, err := rt.bridge.Store().Query(ctx, snap.Graph, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.ExecErr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "query failed:", res.ExecErr)
			}
			out, err := tools.Normalize(res.Content())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	addSourceFlag(cmd, true)
	return cmd
}
