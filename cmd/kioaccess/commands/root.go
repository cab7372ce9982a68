// Package commands implements the kioaccess command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/cmd/kioaccess/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "kioaccess",
	Short: "kioaccess - block streaming over pluggable byte sources",
	Long: `kioaccess reads media resources from local files, HTTP(S) servers and
S3 buckets as a stream of blocks, with seeking and flow control handled by
one dispatcher loop.

Use "kioaccess [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/kioaccess/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the --config value.
func GetConfigFile() string {
	return cfgFile
}
