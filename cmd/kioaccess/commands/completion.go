package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for kioaccess.

Examples:
  # Bash (Linux)
  kioaccess completion bash > /etc/bash_completion.d/kioaccess

  # Zsh
  kioaccess completion zsh > "${fpath[1]}/_kioaccess"

  # Fish
  kioaccess completion fish > ~/.config/fish/completions/kioaccess.fish

  # PowerShell
  kioaccess completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}
