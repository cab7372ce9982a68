package config

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/internal/cli/prompt"
	"github.com/marmos91/kioaccess/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default kioaccess configuration to a file.

By default the file is created at $XDG_CONFIG_HOME/kioaccess/config.yaml.
Use --config to choose another path. An existing file is only replaced after
confirmation, or with --force.

Examples:
  # Initialize with default location
  kioaccess config init

  # Initialize with custom path
  kioaccess config init --config /etc/kioaccess/config.yaml

  # Overwrite an existing file without asking
  kioaccess config init --force`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(path); err == nil && !force && isatty.IsTerminal(os.Stdin.Fd()) {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Overwrite %s", path), false)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		force = true
	}

	if err := config.InitConfigToPath(path, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the configuration file to enable providers (e.g. providers.s3)")
	_, _ = fmt.Fprintln(out, "  2. Check it with: kioaccess config validate")
	_, _ = fmt.Fprintf(out, "  3. Start the API server with: kioaccess serve --config %s\n", path)
	return nil
}
