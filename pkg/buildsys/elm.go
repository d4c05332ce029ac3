package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Toolchain describes how the Elm compiler is invoked
type Toolchain struct {
	// Init is the shell script run by elm-init. It has to be idempotent.
	Init string
	// Make is the compiler command; the source file and "--output <file>" are appended
	Make []string
}

// DefaultToolchain uses elm-package and elm-make from PATH
func DefaultToolchain() Toolchain {
	return Toolchain{
		Init: "elm-package install --yes",
		Make: []string{"elm-make", "--yes"},
	}
}

func (i TaskCmdElmInit) Run(ctx context.Context, run *taskRun) error {
	script := i.Script
	if script == "" {
		script = run.runner.Toolchain.Init
	}

	if script == "" {
		return eris.New("no elm init command configured")
	}

	return TaskCmdScript{
		TaskName: run.task.Short,
		Content:  script,
	}.Run(ctx, run)
}

// OutputPath returns the file the compiler writes for src
func (e TaskCmdElm) OutputPath(base, src string) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".js"
	return filepath.Join(e.destDir(base), name)
}

func (e TaskCmdElm) destDir(base string) string {
	if filepath.IsAbs(e.Dest) {
		return e.Dest
	}
	return filepath.Join(base, e.Dest)
}

func (e TaskCmdElm) Run(ctx context.Context, run *taskRun) error {
	compiler := run.runner.Toolchain.Make
	if len(compiler) == 0 {
		return eris.New("no elm compiler configured")
	}

	base := run.base()
	sources, err := resolvePatterns(base, e.Inputs)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		log(ctx).Info().
			Str("task", run.task.Short).
			Msgf("no files match %s", strings.Join(e.Inputs, " "))
		return nil
	}

	if !run.runner.DryRun {
		err = os.MkdirAll(e.destDir(base), 0770)
		if err != nil {
			return eris.Wrapf(err, "failed to create %s", e.Dest)
		}
	}

	for _, src := range sources {
		args := make([]string, 0, len(compiler)+3)
		args = append(args, compiler...)
		args = append(args, relPath(base, src), "--output", relPath(base, e.OutputPath(base, src)))

		err = run.runArgs(ctx, args...)
		if err != nil {
			return eris.Wrapf(err, "failed to compile %s", relPath(base, src))
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	// every file compiled; now the follow-up commands run once per output
	for range sources {
		for _, cmd := range e.Then {
			if err = ctx.Err(); err != nil {
				return err
			}

			err = cmd.Run(ctx, run)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}
