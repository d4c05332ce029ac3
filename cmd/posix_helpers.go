package cmd

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// Task scripts use mv, rm and mkdir to shuffle build output around (rm -rf tmp, mkdir -p dist).
// Shell commands with these names are redirected here so that they behave the same on Windows.

var mvCmd = &cobra.Command{
	Use:   "mv <source>... <dest>",
	Short: "Portable mv",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMv,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Portable rm",
	RunE:  runRm,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <dir>...",
	Short: "Portable mkdir",
	RunE:  runMkdir,
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "delete directories and their contents")
	rmCmd.Flags().BoolP("force", "f", false, "ignore missing paths")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create missing parents and ignore existing directories")

	toolCmd.AddCommand(mvCmd, rmCmd, mkdirCmd)
}

// expandArgs resolves glob patterns on Windows where the shell leaves that to the program.
// Patterns without matches are an error unless skipEmpty is set.
func expandArgs(args []string, skipEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	result := make([]string, 0, len(args))
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid pattern %s", arg)
		}

		if len(matches) == 0 && !skipEmpty {
			return nil, eris.Errorf("%s: no such file or directory", arg)
		}
		result = append(result, matches...)
	}

	return result, nil
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if eris.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "failed to check %s", path)
	}
	return info.IsDir(), nil
}

func runMv(cmd *cobra.Command, args []string) error {
	dest := filepath.Clean(args[len(args)-1])
	if parent, err := isDir(filepath.Dir(dest)); err != nil || !parent {
		return eris.Errorf("%s: target directory doesn't exist", filepath.Dir(dest))
	}

	intoDir, err := isDir(dest)
	if err != nil {
		return err
	}

	sources, err := expandArgs(args[:len(args)-1], false)
	if err != nil {
		return err
	}

	if len(sources) > 1 && !intoDir {
		return eris.Errorf("%s: moving several paths requires a target directory", dest)
	}

	for _, src := range sources {
		target := dest
		if intoDir {
			target = filepath.Join(dest, filepath.Base(src))
		}

		if err = os.Rename(src, target); err != nil {
			return eris.Wrapf(err, "failed to move %s", src)
		}
	}

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	paths, err := expandArgs(args, force)
	if err != nil {
		return err
	}

	// check everything first so that a bad argument doesn't leave a half-deleted tree behind
	remove := make([]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Lstat(path)
		switch {
		case force && eris.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return eris.Wrapf(err, "failed to check %s", path)
		case info.IsDir() && !recursive:
			return eris.Errorf("%s: is a directory (use -r)", path)
		}

		remove = append(remove, path)
	}

	for _, path := range remove {
		if err = os.RemoveAll(path); err != nil {
			return eris.Wrapf(err, "failed to delete %s", path)
		}
	}

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	parents, err := cmd.Flags().GetBool("parents")
	if err != nil {
		return err
	}

	for _, dir := range args {
		if parents {
			err = os.MkdirAll(dir, 0770)
		} else {
			err = os.Mkdir(dir, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "failed to create %s", dir)
		}
	}

	return nil
}
