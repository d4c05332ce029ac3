package buildsys

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/interp"
)

// execRecorder stands in for external programs. Calls with "--output <file>" write the file like
// elm-make does. With strict set, sh and node fail like the real programs if the files they read
// are missing and sh writes its last argument.
type execRecorder struct {
	lock   sync.Mutex
	calls  [][]string
	fail   func(args []string) bool
	hook   func(args []string)
	strict bool
}

func (e *execRecorder) handler(ctx context.Context, args []string) error {
	e.lock.Lock()
	e.calls = append(e.calls, append([]string{}, args...))
	e.lock.Unlock()

	if e.hook != nil {
		e.hook(args)
	}

	if e.fail != nil && e.fail(args) {
		return eris.Errorf("%s: exit status 1", args[0])
	}

	dir := interp.HandlerCtx(ctx).Dir
	if e.strict && (args[0] == "sh" || args[0] == "node") {
		inputs := args[1:]
		if args[0] == "sh" && len(inputs) > 0 {
			inputs = inputs[:len(inputs)-1]
		}

		for _, input := range inputs {
			if !exists(filepath.Join(dir, input)) {
				return eris.Errorf("%s: %s: no such file", args[0], input)
			}
		}

		if args[0] == "sh" && len(args) > 2 {
			return ioutil.WriteFile(filepath.Join(dir, args[len(args)-1]), []byte("// runnable\n"), 0660)
		}
		return nil
	}

	for idx, arg := range args {
		if arg == "--output" && idx+1 < len(args) {
			path := args[idx+1]
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}

			return ioutil.WriteFile(path, []byte("// compiled\n"), 0660)
		}
	}

	return nil
}

func (e *execRecorder) programs() []string {
	e.lock.Lock()
	defer e.lock.Unlock()

	result := make([]string, len(e.calls))
	for idx, call := range e.calls {
		result[idx] = call[0]
	}
	return result
}

func (e *execRecorder) count(program string, args ...string) int {
	e.lock.Lock()
	defer e.lock.Unlock()

	found := 0
outer:
	for _, call := range e.calls {
		if call[0] != program {
			continue
		}

		joined := strings.Join(call[1:], " ")
		for _, arg := range args {
			if !strings.Contains(joined, arg) {
				continue outer
			}
		}
		found++
	}
	return found
}

// fakeWatcher hands out a channel per pattern list instead of watching the filesystem
type fakeWatcher struct {
	lock  sync.Mutex
	chans map[string]chan []string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{chans: make(map[string]chan []string)}
}

func (f *fakeWatcher) watch(ctx context.Context, root string, patterns []string, lull time.Duration) (<-chan []string, error) {
	ch := make(chan []string)

	f.lock.Lock()
	f.chans[strings.Join(patterns, ",")] = ch
	f.lock.Unlock()

	return ch, nil
}

func (f *fakeWatcher) registered(patterns string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	_, ok := f.chans[patterns]
	return ok
}

func (f *fakeWatcher) send(t *testing.T, patterns string, files ...string) {
	t.Helper()

	f.lock.Lock()
	ch, ok := f.chans[patterns]
	f.lock.Unlock()
	if !ok {
		t.Fatalf("no watch registered for %s", patterns)
	}

	select {
	case ch <- files:
	case <-time.After(5 * time.Second):
		t.Fatalf("watch for %s isn't listening", patterns)
	}
}

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

func newTestRunner(root string, tasks TaskList) (*Runner, *execRecorder) {
	recorder := &execRecorder{}
	runner := &Runner{
		Tasks:       tasks,
		Root:        root,
		Toolchain:   DefaultToolchain(),
		Stdout:      ioutil.Discard,
		Stderr:      ioutil.Discard,
		ExecHandler: recorder.handler,
	}

	return runner, recorder
}

// installConsoleRunner creates the elm-console script elm-package install would have fetched
func installConsoleRunner(t *testing.T, root string) {
	t.Helper()
	writeFile(t, root, ElmConsoleRunner, "#!/bin/sh\n")
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		t.Fatal(err)
	}

	if err := ioutil.WriteFile(path, []byte(content), 0660); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
