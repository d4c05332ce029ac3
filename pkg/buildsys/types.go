package buildsys

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
)

// TaskCmd is a single step of a task's action
type TaskCmd interface {
	Run(ctx context.Context, run *taskRun) error
	String() string
}

// TaskCmdScript is a shell snippet
type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) String() string {
	return s.Content
}

// TaskCmdTaskRef runs an inline task as part of the current invocation
type TaskCmdTaskRef struct {
	Task *Task
}

func (t TaskCmdTaskRef) String() string {
	return "run " + t.Task.Short
}

// TaskCmdElmInit runs Script or, if it's empty, the toolchain's init script
type TaskCmdElmInit struct {
	Script string
}

func (i TaskCmdElmInit) String() string {
	if i.Script != "" {
		return "elm-init: " + i.Script
	}
	return "elm-init"
}

// TaskCmdElm compiles every file matching Inputs into Dest. Once all of them compiled, Then runs
// once per compiled file. Nothing in Then runs if no file matched or a file failed to compile.
type TaskCmdElm struct {
	Inputs []string
	Dest   string
	Then   []TaskCmd
}

func (e TaskCmdElm) String() string {
	desc := fmt.Sprintf("elm %s -> %s", strings.Join(e.Inputs, " "), e.Dest)
	if len(e.Then) > 0 {
		desc += fmt.Sprintf(" (+%d per file)", len(e.Then))
	}
	return desc
}

// TaskCmdStart starts Task in the background without waiting for it
type TaskCmdStart struct {
	Task string
}

func (s TaskCmdStart) String() string {
	return "start " + s.Task
}

// TaskCmdWatch runs Task whenever a file matching Patterns changes
type TaskCmdWatch struct {
	Patterns []string
	Task     string
}

func (w TaskCmdWatch) String() string {
	return fmt.Sprintf("watch %s -> %s", strings.Join(w.Patterns, " "), w.Task)
}

// Task is a named unit of work. Hidden tasks are only reachable through TaskCmdTaskRef.
type Task struct {
	Env    map[string]string
	Short  string
	Desc   string
	Base   string
	Deps   []string
	Cmds   []TaskCmd
	Hidden bool
}

// TaskList maps task names to tasks
type TaskList map[string]*Task

// ScriptOption is an option declared with option() in a task script
type ScriptOption struct {
	DefaultValue string
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue
}

// *Task is passed around in scripts so that tasks can be referenced inline

func (t *Task) String() string {
	return fmt.Sprintf("<task %s>", t.Short)
}

func (t *Task) Type() string {
	return "task"
}

func (t *Task) Freeze() {}

func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

func (t *Task) Hash() (uint32, error) {
	return starlark.String(t.Short).Hash()
}

// StarlarkCmd wraps the commands returned by elm(), elm_init(), start() and watch()
type StarlarkCmd struct {
	Cmd TaskCmd
}

func (c StarlarkCmd) String() string {
	return fmt.Sprintf("<cmd %s>", c.Cmd.String())
}

func (c StarlarkCmd) Type() string {
	return "cmd"
}

func (c StarlarkCmd) Freeze() {}

func (c StarlarkCmd) Truth() starlark.Bool {
	return starlark.True
}

func (c StarlarkCmd) Hash() (uint32, error) {
	return 0, eris.New("cmd is not hashable")
}

// StarlarkPath is an absolute path returned by path()
type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, other starlark.Value, depth int) (bool, error) {
	return starlark.String(p).CompareSameType(op, starlark.String(other.(StarlarkPath)), depth)
}
