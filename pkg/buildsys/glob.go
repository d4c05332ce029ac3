package buildsys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

func shellReadDir(base string) func(string) ([]os.FileInfo, error) {
	return func(path string) ([]os.FileInfo, error) {
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}

		infos, err := ioutil.ReadDir(path)
		if eris.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return infos, err
	}
}

// resolvePatterns expands the glob patterns relative to base. Patterns without matches resolve
// to nothing. The result contains absolute paths if base is absolute.
func resolvePatterns(base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		// relative patterns are matched against base instead of the process' working directory
		Env:      expand.ListEnviron("PWD=" + base),
		ReadDir:  shellReadDir(base),
		GlobStar: true,
		NullGlob: true,
	}

	parser := syntax.NewParser()
	for _, item := range patterns {
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			match = filepath.FromSlash(match)
			if !filepath.IsAbs(match) {
				match = filepath.Join(base, match)
			}

			info, err := os.Stat(match)
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, eris.Wrapf(err, "Failed to check %s", match)
			}

			if !info.IsDir() {
				result = append(result, match)
			}
		}
	}

	sort.Strings(result)
	return result, nil
}
