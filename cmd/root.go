// Package cmd implements the coursecheck command-line interface.
package cmd

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cmdmigrate "github.com/jonesrussell/coursecheck/cmd/migrate"
	cmdruns "github.com/jonesrussell/coursecheck/cmd/runs"
	cmdserve "github.com/jonesrussell/coursecheck/cmd/serve"
	cmdworker "github.com/jonesrussell/coursecheck/cmd/worker"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// rootCmd represents the root command for the coursecheck CLI.
	rootCmd = &cobra.Command{
		Use:   "coursecheck",
		Short: "Batch lesson quality analysis",
		Long: `coursecheck analyzes the quality of lesson content in batches,
scoring each lesson against a set of metrics using LLM backends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are available to viper.
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml)",
	)

	rootCmd.AddCommand(cmdserve.Command(&cfgFile))
	rootCmd.AddCommand(cmdworker.Command(&cfgFile))
	rootCmd.AddCommand(cmdruns.Command(&cfgFile))
	rootCmd.AddCommand(cmdmigrate.Command(&cfgFile))
}
