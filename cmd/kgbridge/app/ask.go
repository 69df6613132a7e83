package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/flynn-ai/kgbridge/internal/agent"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/internal/tui"
)

func newAskCmd() *cobra.Command {
	var (
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer one question about an ontology",
		Example: `  kgbridge ask --source vehicles.ttl "Which vehicles have a faulty component?"
  kgbridge ask -s vehicles.ttl --json "How many components does vehicle1 have?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			if _, err := rt.loadSource(ctx, true); err != nil {
				return err
			}

			var cb agent.EventCallback
			if verbose {
				cb = func(e agent.Event) {
					if e.ToolName != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "tool %s success=%t\n", e.ToolName, e.Success)
					}
				}
			}
			ans, err := rt.agent.AskWithEvents(ctx, strings.Join(args, " "), cb)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), apperrors.FormatUserMessage(err))
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
			return nil
		},
	}
	addSourceFlag(cmd, true)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer with tool calls as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Report tool calls on stderr")
	return cmd
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an ontology in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			// The console owns the terminal, so logs go to a file.
			logFile, err := openChatLog()
			if err != nil {
				return err
			}
			defer logFile.Close()

			rt, err := newRuntime(logFile)
			if err != nil {
				return err
			}
			defer rt.Close()
			if _, err := rt.loadSource(ctx, false); err != nil {
				return err
			}

			p := tea.NewProgram(tui.New(ctx, rt.agent, rt.bridge), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	addSourceFlag(cmd, false)
	return cmd
}

// openChatLog appends to chat.log next to the config file.
func openChatLog() (*os.File, error) {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "chat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
