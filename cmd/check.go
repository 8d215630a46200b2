package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"runhub/internal/config"
)

var checkConfigPath string

// checkCmd validates the configuration file without starting the server.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Long: `Loads and validates the configuration file, reporting the first
problem found. Exits zero when the configuration is usable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(checkConfigPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d sources, cache strategy %s\n",
			len(cfg.Sources), cfg.Cache.Strategy)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkConfigPath, "config", "config.yaml", "Configuration file path")
}
