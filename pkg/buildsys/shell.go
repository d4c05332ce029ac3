package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv":
			fallthrough
		case "rm":
			fallthrough
		case "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			self, err := os.Executable()
			if err != nil {
				self = "elmtask"
			}
			args = append([]string{self, "tool"}, args...)
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func (run *taskRun) getShell() (*interp.Runner, error) {
	if run.shell != nil {
		return run.shell, nil
	}

	handler := execHandler
	if run.runner.ExecHandler != nil {
		handler = run.runner.ExecHandler
	}

	runner, err := interp.New(
		interp.Dir(run.base()),
		interp.Env(getTaskEnv(run.task)),
		interp.ExecHandler(handler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, run.runner.stdout(), run.runner.stderr()),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to initialize runner")
	}

	run.shell = runner
	return runner, nil
}

func (run *taskRun) runStmts(ctx context.Context, stmts []*syntax.Stmt) error {
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, stm := range stmts {
		strBuffer.Reset()
		err := printer.Print(&strBuffer, stm)
		if err != nil {
			return eris.Wrap(err, "failed to print command")
		}

		log(ctx).Info().
			Str("task", run.task.Short).
			Bool("command", true).
			Msg(strBuffer.String())

		if run.runner.DryRun {
			continue
		}

		shell, err := run.getShell()
		if err != nil {
			return err
		}

		err = shell.Run(ctx, stm)
		if err != nil {
			return eris.Wrapf(err, "command failed: %s", strBuffer.String())
		}

		if shell.Exited() {
			return nil
		}
	}

	return nil
}

// ToShellStmts parses the script content
func (s TaskCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	reader := strings.NewReader(s.Content)
	result, err := parser.Parse(reader, fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

func (s TaskCmdScript) Run(ctx context.Context, run *taskRun) error {
	stmts, err := s.ToShellStmts(syntax.NewParser())
	if err != nil {
		return err
	}

	return run.runStmts(ctx, stmts)
}

// runArgs runs a single command with the given arguments; nothing is subject to shell expansion
func (run *taskRun) runArgs(ctx context.Context, args ...string) error {
	stmt := &syntax.Stmt{Cmd: callExpr(args...)}
	return run.runStmts(ctx, []*syntax.Stmt{stmt})
}

// shellWord quotes arg so that the shell passes it through unchanged
func shellWord(arg string) *syntax.Word {
	var part syntax.WordPart

	switch {
	case strings.Contains(arg, "'"):
		escaped := strings.ReplaceAll(strings.ReplaceAll(arg, `\`, `\\`), "'", `\'`)
		part = &syntax.SglQuoted{Dollar: true, Value: escaped}
	case arg == "" || strings.ContainsAny(arg, " \t\n$\"\\*?[]{}()<>|&;#~`"):
		part = &syntax.SglQuoted{Value: arg}
	default:
		part = &syntax.Lit{Value: arg}
	}

	return &syntax.Word{Parts: []syntax.WordPart{part}}
}

func callExpr(args ...string) *syntax.CallExpr {
	cmd := &syntax.CallExpr{Args: make([]*syntax.Word, len(args))}
	for idx, arg := range args {
		cmd.Args[idx] = shellWord(arg)
	}

	return cmd
}
