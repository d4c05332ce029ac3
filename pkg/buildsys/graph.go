package buildsys

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Register adds a task to the list. Prerequisites don't have to be registered yet; they're only
// checked once a task is resolved.
func (l TaskList) Register(task *Task) error {
	if task.Short == "" {
		return eris.New("task name is required")
	}

	if _, exists := l[task.Short]; exists {
		return eris.Errorf("task %s is already registered", task.Short)
	}

	l[task.Short] = task
	return nil
}

// Resolve returns the named task and all of its transitive prerequisites in execution order.
// Prerequisites are visited depth-first in declaration order and every task appears exactly once.
func (l TaskList) Resolve(name string) ([]*Task, error) {
	task, ok := l[name]
	if !ok {
		return nil, taskNotFound(name)
	}

	return l.plan(task)
}

func (l TaskList) plan(root *Task) ([]*Task, error) {
	const (
		visiting = 1
		visited  = 2
	)

	state := make(map[*Task]int)
	stack := make([]string, 0)
	order := make([]*Task, 0)

	var visit func(task *Task) error
	visit = func(task *Task) error {
		switch state[task] {
		case visited:
			return nil
		case visiting:
			start := 0
			for idx, name := range stack {
				if name == task.Short {
					start = idx
					break
				}
			}

			path := append(append([]string{}, stack[start:]...), task.Short)
			return eris.Wrapf(ErrCycle, "%s", strings.Join(path, " -> "))
		}

		state[task] = visiting
		stack = append(stack, task.Short)

		for _, dep := range task.Deps {
			depTask, ok := l[dep]
			if !ok {
				return eris.Wrapf(ErrTaskNotFound, "task %s (required by %s)", dep, task.Short)
			}

			if err := visit(depTask); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		state[task] = visited
		order = append(order, task)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}

	return order, nil
}

// Names returns the sorted names of all visible tasks
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name, task := range l {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}
