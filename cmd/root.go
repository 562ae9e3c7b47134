// Package cmd wires the CLI entry points.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - versioned document store with retrieval-grounded QA",
	Long: `Quill stores documents with strict version sequencing and answers
questions about them using semantic retrieval over pgvector embeddings
and the Gemini API.

Run "quill serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
