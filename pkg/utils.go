package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// FindUp searches start and its parents for a file called name and returns its path
func FindUp(start, name string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(path, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Failed to check %s", candidate)
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	return "", &os.PathError{Op: "find", Path: name, Err: os.ErrNotExist}
}

// GetProjectRoot returns the directory containing the task script or, if there is none, the
// closest directory with an elm-package.json.
func GetProjectRoot(start, script string) (string, error) {
	for _, marker := range []string{script, "elm-package.json"} {
		path, err := FindUp(start, marker)
		if err == nil {
			return filepath.Dir(path), nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	return "", eris.New("Project root not found")
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
