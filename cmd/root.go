package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when runhub is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "runhub",
	Short: "Intelligent runbook retrieval for incident response",
	Long: `runhub indexes operational documentation from configured sources and
serves runbooks, decision trees, procedures and escalation paths to AI
assistants over MCP and to scripts over HTTP. Results are matched to the
incoming alert and ranked by confidence.`,
	SilenceUsage: true,
}

// SetVersion injects the build version, typically from main via -ldflags.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "runhub version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
