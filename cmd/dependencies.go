package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gridbuilder/elmtask/pkg"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long:  `Downloads and unpacks the tool archives listed in the project's DEPS.yml (i.e. the Elm platform)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask("Loading config")
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		cfgPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		if cfgPath == "" {
			cfgPath, err = pkg.FindUp(wd, "DEPS.yml")
			if err != nil {
				return err
			}
		}

		cfgPath, err = filepath.Abs(cfgPath)
		if err != nil {
			return err
		}
		root := filepath.Dir(cfgPath)

		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		quiet, err := cmd.Flags().GetBool("quiet")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		pkg.PrintTask("Downloading dependencies")
		err = pkg.FetchDeps(ctx, pkg.FetchOptions{
			Root:       root,
			ConfigFile: cfgPath,
			Update:     update,
			Quiet:      quiet,
		})
		if err != nil {
			pkg.PrintError(err.Error())
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	toolCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().StringP("config", "c", "", "DEPS.yml to use instead of searching the current and parent directories")
	fetchDepsCmd.Flags().BoolP("update", "u", false, "accept changed checksums and print the new values")
	fetchDepsCmd.Flags().BoolP("quiet", "q", false, "hide progress bars")
}
