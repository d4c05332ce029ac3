package cmd

import (
	"github.com/spf13/cobra"
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Helpers used by task commands",
	Long: `This command bundles portable implementations of mv, rm and mkdir (shell commands in tasks
are redirected to them) and the fetch-deps command which installs the tools listed in DEPS.yml.`,
}

func init() {
	rootCmd.AddCommand(toolCmd)
}
