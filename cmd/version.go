package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Quill %s\n", AppVersion)
		fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
