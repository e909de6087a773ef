package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "auro",
	Short: "Auro - grounded retrieval engine for brokerage assistants",
	Long: `Auro indexes brokerage knowledge (brand stories, campaign manuals,
project brochures, websites) into a multi-tenant vector store and answers
lead questions with retrieval-grounded prompts.

Run "auro serve" to start the HTTP API, "auro ingest" to index content,
and "auro query" to test retrieval from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
