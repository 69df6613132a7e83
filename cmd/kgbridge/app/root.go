// Package app provides the commands of the kgbridge CLI.
package app

import (
	"github.com/spf13/cobra"

	"github.com/flynn-ai/kgbridge/internal/config"
)

var (
	configPath string
	logLevel   string
	noAudit    bool
	sourcePath string
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kgbridge",
		Short: "Answer questions over an uploaded ontology",
		Long: `kgbridge answers natural-language questions about an ontology. A language
model chooses between a SPARQL query over the loaded graph and a semantic
search over its text, and the results are turned into a final answer.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the TOML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&noAudit, "no-audit", false, "Do not write the audit ledger")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newChatCmd(),
		newMCPCmd(),
		newToolsCmd(),
		newQueryCmd(),
	)
	return root
}

func addSourceFlag(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVarP(&sourcePath, "source", "s", "", "Ontology file to load at startup (.ttl, .owl, .rdf, .xml, .nt)")
	if required {
		_ = cmd.MarkFlagRequired("source")
	}
}
