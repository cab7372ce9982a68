package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/pkg/config"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in your default editor.

Uses $EDITOR, then $VISUAL, falling back to 'vi'. The file is validated
after the editor exits.

Examples:
  # Edit default config
  kioaccess config edit

  # Edit specific config file
  kioaccess config edit --config /etc/kioaccess/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it first with:\n"+
			"  kioaccess config init --config %s",
			path, path)
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("configuration saved but invalid: %w", err)
	}
	return nil
}
