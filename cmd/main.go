// Package cmd implements the elmtask CLI
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gridbuilder/elmtask/pkg"
	"github.com/gridbuilder/elmtask/pkg/buildsys"
	"github.com/gridbuilder/elmtask/pkg/config"
)

const cacheFile = ".elmtask.cache"

// errReported signals that the error has already been logged
var errReported = eris.New("failed")

var rootCmd = &cobra.Command{
	Use:   "elmtask [task...] [option=value...]",
	Short: "Task runner for Elm projects",
	Long: `This command parses the first tasks.star file it finds and executes the given tasks.
Without a tasks.star file, the built-in tasks (elm-init, make, test, watch, default) are used.
If no task is passed, "default" is run.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTasks,
}

func init() {
	rootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.Flags().BoolP("list", "l", false, "list the available tasks")
	rootCmd.Flags().StringP("file", "f", "", "task script to use instead of searching for tasks.star")
	rootCmd.Flags().Bool("no-cache", false, "always evaluate the task script")
	rootCmd.Flags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.Flags().Bool("json", false, "log JSON lines instead of coloured text")
}

// Execute runs the CLI and exits with a non-zero code if anything failed
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		if err != errReported {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		level, err := flags.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = level
	}

	if flags.Changed("json") {
		json, err := flags.GetBool("json")
		if err != nil {
			return err
		}
		cfg.Log.JSON = json
	}

	if flags.Changed("no-cache") {
		noCache, err := flags.GetBool("no-cache")
		if err != nil {
			return err
		}
		cfg.Cache = !noCache
	}

	return nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (zerolog.Logger, func(), error) {
	var out io.Writer
	if cfg.Log.JSON {
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToJSON(err, true)
		}
		out = stderr
	} else {
		out = NewConsoleWriter(stderr)
	}

	closer := func() {}
	if cfg.Log.File != "" {
		logFile, err := os.Create(cfg.Log.File)
		if err != nil {
			return zerolog.Logger{}, nil, eris.Wrap(err, "Failed to open log file")
		}
		closer = func() { logFile.Close() }

		var fileOut io.Writer = logFile
		if !cfg.Log.JSON {
			writer := NewConsoleWriter(logFile)
			writer.NoColor = true
			fileOut = writer
		}

		out = zerolog.MultiLevelWriter(out, fileOut)
	}

	logger := zerolog.New(out).Level(cfg.LogLevel()).With().Timestamp().Logger()
	return logger, closer, nil
}

// loadTasks evaluates the task script (or reuses its cache) and returns the tasks and the project root
func loadTasks(ctx context.Context, cfg *config.Config, scriptPath string, options map[string]string) (buildsys.TaskList, string, error) {
	logger := zerolog.Ctx(ctx)
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	if scriptPath == "" {
		scriptPath, err = pkg.FindUp(wd, cfg.Tasks)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
	}

	if scriptPath == "" {
		root, err := pkg.GetProjectRoot(wd, cfg.Tasks)
		if err != nil {
			root = wd
		}

		if len(options) > 0 {
			logger.Warn().Msg("Options are ignored without a task script")
		}

		logger.Debug().Str("path", root).Msg("Using the built-in tasks")
		return buildsys.DefaultTasks(root), root, nil
	}

	scriptPath, err = filepath.Abs(scriptPath)
	if err != nil {
		return nil, "", err
	}
	root := filepath.Dir(scriptPath)
	cachePath := filepath.Join(root, cacheFile)

	if cfg.Cache {
		if taskList, ok := buildsys.LoadCached(cachePath, scriptPath, options); ok {
			logger.Debug().Str("path", cachePath).Msg("Using cached tasks")
			return taskList, root, nil
		}
	}

	result, err := buildsys.RunScript(ctx, scriptPath, root, options, true)
	if err != nil {
		return nil, "", eris.Wrap(err, "Failed to parse tasks")
	}

	if cfg.Cache {
		err = buildsys.WriteCache(cachePath, options, result)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to write the task cache")
		}
	}

	return result.Tasks, root, nil
}

func printTasks(out io.Writer, taskList buildsys.TaskList) {
	fmt.Fprintln(out, "Available tasks:")
	maxNameLen := 0
	names := taskList.Names()
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		fmt.Fprintf(out, lineFmt, name+":", taskList[name].Desc)
	}
}

func runTasks(cmd *cobra.Command, args []string) error {
	taskArgs := make([]string, 0)
	options := make(map[string]string)
	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	dryRun, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return err
	}

	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}

	scriptPath, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}

	cfg, loader := config.Loader()
	if err = loader.Load(); err != nil {
		return eris.Wrap(err, "Failed to load the configuration")
	}

	if err = applyFlags(cmd, cfg); err != nil {
		return err
	}

	if err = cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithContext(ctx)
	ctx = buildsys.WithLogger(ctx, &logger)

	taskList, root, err := loadTasks(ctx, cfg, scriptPath, options)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load tasks")
		return errReported
	}

	if list {
		printTasks(cmd.OutOrStdout(), taskList)
		return nil
	}

	if len(taskArgs) == 0 {
		taskArgs = append(taskArgs, "default")
	}

	// unknown tasks and broken dependency graphs are reported before anything runs
	for _, name := range taskArgs {
		if _, err = taskList.Resolve(name); err != nil {
			logger.Error().Err(err).Msg("Failed")
			return errReported
		}
	}

	runner := &buildsys.Runner{
		Tasks:     taskList,
		Root:      root,
		Toolchain: cfg.Toolchain(),
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
		Lull:      cfg.Lull(),
		DryRun:    dryRun,
	}

	for _, name := range taskArgs {
		err = runner.Run(ctx, name)
		if err != nil {
			break
		}
	}

	if err != nil {
		stop()
	}
	runner.Wait()

	if err != nil {
		logger.Error().Err(err).Msg("Failed")
		return errReported
	}

	return nil
}
