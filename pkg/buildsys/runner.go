package buildsys

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"mvdan.cc/sh/v3/interp"
)

// DefaultLull is the quiet period the watcher waits for before it reports a batch of changes
const DefaultLull = 100 * time.Millisecond

// Runner executes tasks from a TaskList. Its fields must not be modified once a run started;
// concurrent runs (watch triggers, background starts) share them.
type Runner struct {
	Tasks     TaskList
	Root      string
	Toolchain Toolchain
	Stdout    io.Writer
	Stderr    io.Writer
	// ExecHandler replaces the handler used to start external programs (optional)
	ExecHandler interp.ExecHandlerFunc
	// Watch replaces the moddwatch based watcher (optional)
	Watch  WatchFunc
	Lull   time.Duration
	DryRun bool

	background sync.WaitGroup
}

// invocation tracks the state of a single Run call
type invocation struct {
	done     map[*Task]bool
	watchCtx context.Context
	watches  sync.WaitGroup
	watching bool
}

type taskRun struct {
	runner *Runner
	inv    *invocation
	task   *Task
	shell  *interp.Runner
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout == nil {
		return os.Stdout
	}
	return r.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr == nil {
		return os.Stderr
	}
	return r.Stderr
}

func (r *Runner) lull() time.Duration {
	if r.Lull <= 0 {
		return DefaultLull
	}
	return r.Lull
}

// Run executes the named task after all of its prerequisites. Each task runs at most once per
// call. If the run registered any watches, Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, name string) error {
	plan, err := r.Tasks.Resolve(name)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inv := &invocation{
		done:     make(map[*Task]bool),
		watchCtx: watchCtx,
	}

	err = r.runPlan(ctx, inv, plan)
	if err != nil {
		cancel()
		inv.watches.Wait()
		return err
	}

	if inv.watching {
		log(ctx).Info().Msg("Watching for changes")
		<-ctx.Done()
		cancel()
		inv.watches.Wait()
		log(ctx).Info().Msg("Stopped watching")
	}

	return nil
}

// Start runs the named task in the background. Errors are logged.
func (r *Runner) Start(ctx context.Context, name string) {
	r.background.Add(1)
	go func() {
		defer r.background.Done()

		err := r.Run(ctx, name)
		if err != nil && ctx.Err() == nil {
			log(ctx).Error().Err(err).Str("task", name).Msg("Background task failed")
		}
	}()
}

// Wait blocks until all tasks started with Start have finished
func (r *Runner) Wait() {
	r.background.Wait()
}

func (r *Runner) runPlan(ctx context.Context, inv *invocation, plan []*Task) error {
	for _, task := range plan {
		if inv.done[task] {
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			continue
		}

		err := r.runTask(ctx, inv, task)
		if err != nil {
			return err
		}

		inv.done[task] = true
	}

	return nil
}

func (r *Runner) runTask(ctx context.Context, inv *invocation, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log(ctx).Debug().Str("task", task.Short).Msg("starting")
	run := &taskRun{
		runner: r,
		inv:    inv,
		task:   task,
	}

	start := time.Now()
	for _, cmd := range task.Cmds {
		err := cmd.Run(ctx, run)
		if err != nil {
			return actionFailed(task.Short, err)
		}

		if run.shell != nil && run.shell.Exited() {
			break
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	if len(task.Cmds) > 0 {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("finished after %s", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func (t TaskCmdTaskRef) Run(ctx context.Context, run *taskRun) error {
	plan, err := run.runner.Tasks.plan(t.Task)
	if err != nil {
		return err
	}

	return run.runner.runPlan(ctx, run.inv, plan)
}

func (run *taskRun) base() string {
	if run.task.Base != "" {
		return run.task.Base
	}

	if run.runner.Root != "" {
		return run.runner.Root
	}
	return "."
}
