package buildsys

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"
)

const stateKey = "elmtask.script"

var assignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// ScriptResult is what evaluating a task script produced
type ScriptResult struct {
	Tasks   TaskList
	Options map[string]ScriptOption
	// Files maps every file the script looked at to whether it existed at the time
	Files map[string]bool
	// Env holds the process environment variables the script read
	Env map[string]string
}

// scriptState is shared by the builtins during one evaluation
type scriptState struct {
	ctx         context.Context
	script      string
	root        string
	configuring bool
	options     map[string]ScriptOption
	values      map[string]string
	env         map[string]string
	envRead     map[string]string
	files       map[string]bool
	docs        map[string]interface{}
	tasks       []*Task
}

func stateOf(thread *starlark.Thread) *scriptState {
	return thread.Local(stateKey).(*scriptState)
}

// resolve makes a script path absolute. Paths starting with "//" are relative to the project root,
// other relative paths to the script's directory.
func (s *scriptState) resolve(path string) string {
	switch {
	case strings.HasPrefix(path, "//"):
		return filepath.Join(s.root, filepath.FromSlash(path[2:]))
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	default:
		return filepath.Join(filepath.Dir(s.script), filepath.FromSlash(path))
	}
}

func (s *scriptState) display(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return "//" + filepath.ToSlash(rel)
}

func (s *scriptState) stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	s.files[path] = err == nil
	return info, err
}

func (s *scriptState) getenv(name string) string {
	if value, ok := s.env[name]; ok {
		return value
	}

	value := os.Getenv(name)
	s.envRead[name] = value
	return value
}

// document parses a YAML (or JSON) file once per evaluation
func (s *scriptState) document(path string) (interface{}, error) {
	if doc, ok := s.docs[path]; ok {
		return doc, nil
	}

	content, err := ioutil.ReadFile(path)
	s.files[path] = err == nil
	if err != nil {
		return nil, err
	}

	var doc interface{}
	err = yaml.Unmarshal(content, &doc)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", s.display(path))
	}

	s.docs[path] = doc
	return doc, nil
}

func (s *scriptState) logf(thread *starlark.Thread, level zerolog.Level, msg string, args ...interface{}) {
	pos := thread.CallFrame(1).Pos
	log(s.ctx).WithLevel(level).
		Msgf("%s:%d:%d: %s", s.display(s.script), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// commands converts a cmds list. Strings are shell snippets; tuples and lists are argument vectors
// which may start with NAME=value assignments.
func (s *scriptState) commands(owner, base string, list *starlark.List) ([]TaskCmd, error) {
	cmds := make([]TaskCmd, 0)
	if list == nil {
		return cmds, nil
	}

	for idx := 0; idx < list.Len(); idx++ {
		var argv starlark.Tuple

		switch item := list.Index(idx).(type) {
		case starlark.String:
			cmds = append(cmds, TaskCmdScript{TaskName: owner, Index: idx, Content: item.GoString()})
		case starlark.Tuple:
			argv = item
		case *starlark.List:
			argv = make(starlark.Tuple, item.Len())
			for i := range argv {
				argv[i] = item.Index(i)
			}
		case *Task:
			cmds = append(cmds, TaskCmdTaskRef{Task: item})
		case StarlarkCmd:
			cmds = append(cmds, item.Cmd)
		default:
			return nil, eris.Errorf("cmds[%d]: got %s, want string, tuple, list, task or cmd", idx, item.Type())
		}

		if argv != nil {
			content, err := argvScript(argv, base)
			if err != nil {
				return nil, eris.Wrapf(err, "cmds[%d]", idx)
			}

			cmds = append(cmds, TaskCmdScript{TaskName: owner, Index: idx, Content: content})
		}
	}

	return cmds, nil
}

// argvScript renders an argument vector as a single shell statement. Paths are made relative to base.
func argvScript(argv starlark.Tuple, base string) (string, error) {
	call := &syntax.CallExpr{}

	for idx, item := range argv {
		switch value := item.(type) {
		case starlark.String:
			arg := value.GoString()
			if len(call.Args) == 0 && assignment.MatchString(arg) {
				pos := strings.Index(arg, "=")
				call.Assigns = append(call.Assigns, &syntax.Assign{
					Name:  &syntax.Lit{Value: arg[:pos]},
					Value: shellWord(arg[pos+1:]),
				})
				continue
			}

			call.Args = append(call.Args, shellWord(arg))
		case StarlarkPath:
			arg := string(value)
			if rel, err := filepath.Rel(base, arg); err == nil {
				arg = rel
			}

			call.Args = append(call.Args, shellWord(filepath.ToSlash(arg)))
		default:
			return "", eris.Errorf("argument %d: got %s, want string or path", idx, item.Type())
		}
	}

	if len(call.Args) == 0 {
		return "", eris.New("command is empty")
	}

	var buffer strings.Builder
	err := syntax.NewPrinter(syntax.Minify(true)).Print(&buffer, call)
	if err != nil {
		return "", eris.Wrap(err, "failed to print command")
	}

	return buffer.String(), nil
}

func scriptError(err error, format string, args ...interface{}) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("%s:\n%s", fmt.Sprintf(format, args...), evalErr.Backtrace())
	}
	return eris.Wrapf(err, format, args...)
}

// RunScript evaluates a task script. options overrides the defaults of option() calls. If doConfigure
// is false, only the top level is evaluated which is enough to list the options.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (*ScriptResult, error) {
	script, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	source, err := ioutil.ReadFile(script)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", script)
	}

	if options == nil {
		options = map[string]string{}
	}

	state := &scriptState{
		ctx:     ctx,
		script:  script,
		root:    root,
		options: make(map[string]ScriptOption),
		values:  options,
		env:     make(map[string]string),
		envRead: make(map[string]string),
		files:   make(map[string]bool),
		docs:    make(map[string]interface{}),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(_ *starlark.Thread, msg string) {
			log(ctx).Info().Str("script", state.display(script)).Msg(msg)
		},
	}
	thread.SetLocal(stateKey, state)

	globals, err := starlark.ExecFile(thread, state.display(script), source, builtins())
	if err != nil {
		return nil, scriptError(err, "failed to execute %s", state.display(script))
	}

	result := &ScriptResult{
		Tasks:   TaskList{},
		Options: state.options,
		Files:   state.files,
		Env:     state.envRead,
	}
	if !doConfigure {
		return result, nil
	}

	configure, ok := globals["configure"].(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s doesn't define a configure() function", state.display(script))
	}

	state.configuring = true
	_, err = starlark.Call(thread, configure, nil, nil)
	if err != nil {
		return nil, scriptError(err, "configure() in %s failed", state.display(script))
	}

	for _, task := range state.tasks {
		for name, value := range state.env {
			if _, ok := task.Env[name]; !ok {
				task.Env[name] = value
			}
		}

		if task.Hidden {
			continue
		}

		err = result.Tasks.Register(task)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid task in %s", state.display(script))
		}
	}

	return result, nil
}
