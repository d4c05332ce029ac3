package buildsys

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrTaskNotFound is returned when a task or one of its prerequisites isn't registered
	ErrTaskNotFound = eris.New("task not found")
	// ErrActionFailed matches every *ActionError
	ErrActionFailed = eris.New("action failed")
	// ErrCycle is returned when the prerequisites of a task form a cycle
	ErrCycle = eris.New("dependency cycle")
)

// ActionError reports a failed command. Remaining dependents of the invocation are not run.
type ActionError struct {
	Task string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is makes eris.Is(err, ErrActionFailed) work for every ActionError
func (e *ActionError) Is(target error) bool {
	return target == ErrActionFailed
}

func taskNotFound(name string) error {
	return eris.Wrapf(ErrTaskNotFound, "task %s", name)
}

func actionFailed(task string, err error) error {
	if eris.Is(err, ErrActionFailed) || eris.Is(err, ErrTaskNotFound) || eris.Is(err, ErrCycle) {
		return err
	}

	return &ActionError{Task: task, Err: err}
}
