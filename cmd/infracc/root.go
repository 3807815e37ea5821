package main

import (
	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/output"
	"github.com/asmeyatsky/infracc-sub002/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "infracc",
	Short: "Checkpointed migration-planning pipeline",
	Long: `Infracc turns a billing/inventory dataset into a migration plan
through four dependent stages: discovery, assessment, strategy, and cost.

Every stage output is cached against the dataset's content identity, so
interrupted or failed runs resume from the last completed stage instead
of starting over. Oversized collections are stripped down to counts
before persisting to keep the cache usable for very large datasets.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ~/.infracc/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "infracc home directory (default: ~/.infracc)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		output.SetFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(identifyCmd)
	rootCmd.AddCommand(configCmd)
}
