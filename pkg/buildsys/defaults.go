package buildsys

// ElmConsoleRunner is the script shipped with laszlopandy/elm-console that turns a compiled test
// module into a node script
const ElmConsoleRunner = "./elm-stuff/packages/laszlopandy/elm-console/1.1.1/elm-io.sh"

// DefaultTasks returns the task graph used when the project doesn't contain a task script.
func DefaultTasks(root string) TaskList {
	tasks := TaskList{}
	add := func(task *Task) {
		task.Base = root
		task.Env = map[string]string{}
		if err := tasks.Register(task); err != nil {
			panic(err)
		}
	}

	add(&Task{
		Short: "elm-init",
		Desc:  "Installs the Elm packages",
		Cmds:  []TaskCmd{TaskCmdElmInit{}},
	})

	add(&Task{
		Short: "make",
		Desc:  "Compiles src/*.elm to dist/",
		Deps:  []string{"elm-init"},
		Cmds: []TaskCmd{
			TaskCmdElm{Inputs: []string{"src/*.elm"}, Dest: "dist"},
		},
	})

	add(&Task{
		Short: "test",
		Desc:  "Compiles tests/*.elm to tmp/ and runs the tests",
		Deps:  []string{"elm-init"},
		Cmds: []TaskCmd{
			TaskCmdElm{
				Inputs: []string{"tests/*.elm"},
				Dest:   "tmp",
				Then: []TaskCmd{
					TaskCmdScript{TaskName: "test", Index: 1, Content: "echo start elm-test build"},
					TaskCmdScript{TaskName: "test", Index: 2, Content: "sh " + ElmConsoleRunner + " tmp/GridBuilder-test.js tmp/test.js"},
					TaskCmdScript{TaskName: "test", Index: 3, Content: "node tmp/test.js"},
				},
			},
		},
	})

	add(&Task{
		Short: "watch",
		Desc:  "Runs the tests, then rebuilds on changes",
		Cmds: []TaskCmd{
			TaskCmdStart{Task: "test"},
			TaskCmdWatch{Patterns: []string{"src/**"}, Task: "make"},
			TaskCmdWatch{Patterns: []string{"tests/**"}, Task: "test"},
		},
	})

	add(&Task{
		Short: "default",
		Desc:  "Runs the tests and starts watching for changes",
		Deps:  []string{"test", "watch"},
	})

	return tasks
}
