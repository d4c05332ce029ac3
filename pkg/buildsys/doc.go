// Package buildsys implements a small task runner for Elm projects. Tasks are declared either in
// Go (see DefaultTasks) or in a Starlark script (tasks.star), shell commands run on mvdan.cc/sh
// and file watches are provided by moddwatch.
// The graph is resolved explicitly before anything runs so that unknown tasks and cycles are
// reported without side effects.
package buildsys
