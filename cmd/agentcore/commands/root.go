// Package commands implements the agentcore CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - local-first agentic coding assistant runtime",
		Long: `agentcore runs a local agent loop against an OpenAI-compatible LLM
backend, with tool execution, skill learning, context compaction, and
semantic recall.

Examples:
  agentcore chat "summarize the repo layout"
  agentcore serve
  agentcore serve --channel discord
  agentcore vault init`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newVaultCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
