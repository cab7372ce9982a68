package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/internal/cli/output"
	"github.com/marmos91/kioaccess/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the kioaccess configuration file.

Checks for syntax errors, invalid values and inconsistent stream sizing,
then prints a short summary.

Examples:
  # Validate default config
  kioaccess config validate

  # Validate specific config file
  kioaccess config validate --config /etc/kioaccess/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if _, err := cfg.AccessConfig(); err != nil {
		return err
	}

	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Providers.File.Root == "" {
		warnings = append(warnings, "providers.file.root is empty: file:// URLs can read any path")
	}
	if cfg.Providers.S3.Enabled && cfg.Providers.S3.AccessKeyID == "" {
		warnings = append(warnings, "providers.s3 has no static credentials: the AWS default chain is used")
	}
	if cfg.Stream.OpenTimeout == 0 {
		warnings = append(warnings, "stream.open_timeout is 0: opens can block indefinitely")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	schemes := []string{"file", "http", "https"}
	if cfg.Providers.S3.Enabled {
		schemes = append(schemes, "s3")
	}

	var summary output.KeyValues
	summary.Add("Providers", strings.Join(schemes, ", "))
	summary.Add("Block size", cfg.Stream.BlockSize.String())
	summary.Add("Read policy", cfg.Stream.ReadPolicy)
	summary.Add("API port", fmt.Sprintf("%d", cfg.Server.Port))
	summary.Add("Log level", cfg.Logging.Level)

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.PrintKeyValues(out, summary)
}
