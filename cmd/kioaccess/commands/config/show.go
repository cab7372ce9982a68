package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/internal/cli/output"
	"github.com/marmos91/kioaccess/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective kioaccess configuration: defaults, the config file
and KIOACCESS_* environment overrides merged together. Secrets are masked.

Examples:
  # Show as YAML
  kioaccess config show

  # Show as JSON
  kioaccess config show -o json

  # Show what an override does
  KIOACCESS_STREAM_READ_POLICY=blocking kioaccess config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg.Redacted())
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg.Redacted())
	}
}
