package buildsys

import (
	"context"
	"strings"
	"time"

	"github.com/cortesi/moddwatch"
	"github.com/rotisserie/eris"
)

// WatchFunc watches the files below root that match patterns. Every batch of changes is sent as
// a list of paths. The channel is closed once ctx is done.
type WatchFunc func(ctx context.Context, root string, patterns []string, lull time.Duration) (<-chan []string, error)

// ModdWatch is the default WatchFunc
func ModdWatch(ctx context.Context, root string, patterns []string, lull time.Duration) (<-chan []string, error) {
	modCh := make(chan *moddwatch.Mod, 1024)
	watcher, err := moddwatch.Watch(root, patterns, []string{}, lull, modCh)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to watch %s", strings.Join(patterns, " "))
	}

	out := make(chan []string)
	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case mod, ok := <-modCh:
				if !ok {
					return
				}
				if mod == nil {
					continue
				}

				files := make([]string, 0, len(mod.Added)+len(mod.Changed)+len(mod.Deleted))
				files = append(files, mod.Added...)
				files = append(files, mod.Changed...)
				files = append(files, mod.Deleted...)
				if len(files) == 0 {
					continue
				}

				select {
				case out <- files:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s TaskCmdStart) Run(ctx context.Context, run *taskRun) error {
	log(ctx).Info().Str("task", run.task.Short).Msgf("starting %s", s.Task)
	if run.runner.DryRun {
		return nil
	}

	if _, ok := run.runner.Tasks[s.Task]; !ok {
		return taskNotFound(s.Task)
	}

	run.runner.Start(ctx, s.Task)
	return nil
}

func (w TaskCmdWatch) Run(ctx context.Context, run *taskRun) error {
	log(ctx).Info().
		Str("task", run.task.Short).
		Msgf("watching %s for %s", strings.Join(w.Patterns, " "), w.Task)
	if run.runner.DryRun {
		return nil
	}

	if _, ok := run.runner.Tasks[w.Task]; !ok {
		return taskNotFound(w.Task)
	}

	watch := run.runner.Watch
	if watch == nil {
		watch = ModdWatch
	}

	inv := run.inv
	changes, err := watch(inv.watchCtx, run.base(), w.Patterns, run.runner.lull())
	if err != nil {
		return err
	}

	inv.watching = true
	inv.watches.Add(1)
	go func() {
		defer inv.watches.Done()
		w.loop(inv.watchCtx, run.runner, changes)
	}()

	return nil
}

// loop runs the watched task for every batch of changes. Runs never overlap: changes arriving
// during a run schedule a single follow-up run.
func (w TaskCmdWatch) loop(ctx context.Context, r *Runner, changes <-chan []string) {
	done := make(chan error, 1)
	running := false
	pending := false

	trigger := func() {
		running = true
		go func() {
			done <- r.Run(ctx, w.Task)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return
		case files, ok := <-changes:
			if !ok {
				changes = nil
				if !running {
					return
				}
				continue
			}

			log(ctx).Info().
				Str("task", w.Task).
				Strs("files", files).
				Msg("change detected")

			if running {
				pending = true
				continue
			}
			trigger()
		case err := <-done:
			running = false
			if err != nil && ctx.Err() == nil {
				log(ctx).Error().Err(err).Str("task", w.Task).Msg("failed; waiting for the next change")
			}

			if ctx.Err() != nil {
				return
			}

			if pending {
				pending = false
				trigger()
			} else if changes == nil {
				return
			}
		}
	}
}
