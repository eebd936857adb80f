// Package cli defines the Cobra command tree for the charmem CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/config"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// dataDirFlag overrides the data directory for every command.
var dataDirFlag string

// newRootCmd builds the base command and its subcommands.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "charmem",
		Short: "Long-term memory for AI character chat",
		Long: `charmem gives chat characters a long-term memory of each user.

It stores episodic, semantic and emotional memories per user and character,
retrieves the relevant ones into the system prompt, compresses long chats
into memories when the context window fills, and expires what is no longer
worth keeping.

Run 'charmem serve' to expose the memory tools over MCP stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default $CHARMEM_HOME or ~/.charmem)")
	root.AddCommand(
		newServeCmd(),
		newSearchCmd(),
		newListCmd(),
		newDeleteCmd(),
		newRestoreCmd(),
		newUsageCmd(),
		newSummarizeCmd(),
		newSweepCmd(),
		newBackfillCmd(),
		newExportCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func dataDir() (string, error) {
	if dataDirFlag != "" {
		return dataDirFlag, nil
	}
	return config.DefaultDataDir()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "charmem %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
