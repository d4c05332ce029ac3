package buildsys

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

const (
	elmPackageFile = "//elm-package.json"
	exactDepsFile  = "//elm-stuff/exact-dependencies.json"
)

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func builtins() starlark.StringDict {
	funcs := map[string]builtinFunc{
		"info":            logBuiltin(zerolog.InfoLevel),
		"warn":            logBuiltin(zerolog.WarnLevel),
		"error":           starError,
		"option":          starOption,
		"getenv":          starGetenv,
		"setenv":          starSetenv,
		"path":            starPath,
		"isfile":          statBuiltin(func(info os.FileInfo) bool { return info.Mode().IsRegular() }),
		"isdir":           statBuiltin(func(info os.FileInfo) bool { return info.IsDir() }),
		"read_yaml":       starReadYaml,
		"elm_package":     starElmPackage,
		"package_version": starPackageVersion,
		"task":            starTask,
		"elm_init":        starElmInit,
		"elm":             starElm,
		"start":           starStart,
		"watch":           starWatch,
	}

	dict := starlark.StringDict{
		"OS":   starlark.String(runtime.GOOS),
		"ARCH": starlark.String(runtime.GOARCH),
	}
	for name, fn := range funcs {
		dict[name] = starlark.NewBuiltin(name, fn)
	}

	return dict
}

func logBuiltin(level zerolog.Level) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string

		err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
		if err != nil {
			return nil, err
		}

		stateOf(thread).logf(thread, level, "%s", message)
		return starlark.None, nil
	}
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func starOption(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, defaultValue, help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	if state.configuring {
		return nil, eris.Errorf("%s: options have to be declared at the top level", fn.Name())
	}

	state.options[name] = ScriptOption{DefaultValue: defaultValue, Help: help}
	if value, ok := state.values[name]; ok {
		return starlark.String(value), nil
	}

	return starlark.String(defaultValue), nil
}

func starGetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, defaultValue string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	value := stateOf(thread).getenv(name)
	if value == "" {
		value = defaultValue
	}

	return starlark.String(value), nil
}

// setenv only affects the script and the tasks it declares, never the process environment
func starSetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &name, &value)
	if err != nil {
		return nil, err
	}

	content, err := pathArg(value, fn.Name())
	if err != nil {
		return nil, err
	}

	stateOf(thread).env[name] = content
	return starlark.None, nil
}

func starPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), kwargs[0][0])
	}
	if len(args) == 0 {
		return nil, eris.Errorf("%s: expected at least one argument", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		part, ok := starlark.AsString(arg)
		if !ok {
			return nil, eris.Errorf("%s: argument %d is a %s, want string", fn.Name(), idx+1, arg.Type())
		}
		parts[idx] = filepath.FromSlash(part)
	}

	parts[0] = stateOf(thread).resolve(parts[0])
	return StarlarkPath(filepath.Join(parts...)), nil
}

func statBuiltin(check func(os.FileInfo) bool) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var target starlark.Value

		err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &target)
		if err != nil {
			return nil, err
		}

		path, err := pathArg(target, fn.Name())
		if err != nil {
			return nil, err
		}

		state := stateOf(thread)
		info, err := state.stat(state.resolve(path))
		return starlark.Bool(err == nil && check(info)), nil
	}
}

func starReadYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file starlark.Value
	var key string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "file", &file, "key?", &key, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	path, err := pathArg(file, "file")
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	path = state.resolve(path)

	doc, err := state.document(path)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: failed to read %s", fn.Name(), state.display(path))
	}

	value, ok := lookupKey(doc, key)
	if !ok {
		return defaultValue, nil
	}

	return toStarlark(value)
}

// elm_package(key, default) reads a key from the project's elm-package.json
func starElmPackage(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	return lookupProjectFile(thread, fn, elmPackageFile, func(doc interface{}) (interface{}, bool) {
		return lookupKey(doc, key)
	}, defaultValue)
}

// package_version(name, default) returns the installed version of an Elm package
func starPackageVersion(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	return lookupProjectFile(thread, fn, exactDepsFile, func(doc interface{}) (interface{}, bool) {
		versions, ok := doc.(map[string]interface{})
		if !ok {
			return nil, false
		}

		version, ok := versions[name]
		return version, ok && version != nil
	}, defaultValue)
}

// lookupProjectFile returns defaultValue if the file doesn't exist yet; elm-stuff only appears
// after elm-package install.
func lookupProjectFile(thread *starlark.Thread, fn *starlark.Builtin, file string, lookup func(interface{}) (interface{}, bool), defaultValue starlark.Value) (starlark.Value, error) {
	state := stateOf(thread)
	path := state.resolve(file)

	doc, err := state.document(path)
	if eris.Is(err, os.ErrNotExist) {
		return defaultValue, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "%s: failed to read %s", fn.Name(), file)
	}

	value, ok := lookup(doc)
	if !ok {
		return defaultValue, nil
	}

	return toStarlark(value)
}

func starTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps starlark.Value
	var base starlark.Value = starlark.String(".")
	var env *starlark.Dict
	var cmds *starlark.List

	task := &Task{Env: make(map[string]string)}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &base, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	if !state.configuring {
		return nil, eris.Errorf("%s: tasks can only be declared inside configure()", fn.Name())
	}

	switch task.Short {
	case "":
		task.Short = "auto#" + nanoid.New()
		task.Hidden = true
	case "configure":
		return nil, eris.Errorf("%s: the name configure is reserved", fn.Name())
	}

	baseDir, err := pathArg(base, "base")
	if err != nil {
		return nil, err
	}
	task.Base = state.resolve(baseDir)

	task.Deps, err = stringList(deps, "deps")
	if err != nil {
		return nil, err
	}

	if env != nil {
		for _, item := range env.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, eris.Errorf("env: got %s key, want string", item[0].Type())
			}

			task.Env[name], err = pathArg(item[1], "env["+name+"]")
			if err != nil {
				return nil, err
			}
		}
	}

	task.Cmds, err = state.commands(task.Short, task.Base, cmds)
	if err != nil {
		return nil, eris.Wrapf(err, "task %s", task.Short)
	}

	if len(task.Cmds) == 0 && len(task.Deps) == 0 {
		state.logf(thread, zerolog.WarnLevel, "task %s has neither deps nor cmds", task.Short)
	}

	state.tasks = append(state.tasks, task)
	return task, nil
}

func starElmInit(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var script string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "script?", &script)
	if err != nil {
		return nil, err
	}

	return StarlarkCmd{Cmd: TaskCmdElmInit{Script: script}}, nil
}

func starElm(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var inputs, dest starlark.Value
	var then *starlark.List

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "inputs", &inputs, "dest", &dest, "then?", &then)
	if err != nil {
		return nil, err
	}

	cmd := TaskCmdElm{}
	cmd.Inputs, err = stringList(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	cmd.Dest, err = pathArg(dest, "dest")
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	cmd.Then, err = state.commands(fn.Name(), filepath.Dir(state.script), then)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: then", fn.Name())
	}

	return StarlarkCmd{Cmd: cmd}, nil
}

func starStart(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "task", &target)
	if err != nil {
		return nil, err
	}

	name, err := taskName(target, fn.Name())
	if err != nil {
		return nil, err
	}

	return StarlarkCmd{Cmd: TaskCmdStart{Task: name}}, nil
}

func starWatch(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var patterns, target starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "patterns", &patterns, "task", &target)
	if err != nil {
		return nil, err
	}

	cmd := TaskCmdWatch{}
	cmd.Patterns, err = stringList(patterns, "patterns")
	if err != nil {
		return nil, err
	}

	if len(cmd.Patterns) == 0 {
		return nil, eris.Errorf("%s: expected at least one pattern", fn.Name())
	}

	cmd.Task, err = taskName(target, fn.Name())
	if err != nil {
		return nil, err
	}

	return StarlarkCmd{Cmd: cmd}, nil
}
