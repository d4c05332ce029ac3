package buildsys

import (
	"testing"

	. "github.com/onsi/gomega"
)

func taskNames(plan []*Task) []string {
	names := make([]string, len(plan))
	for idx, task := range plan {
		names[idx] = task.Short
	}
	return names
}

func TestResolveDefaultTasks(t *testing.T) {
	g := NewWithT(t)
	tasks := DefaultTasks("/project")

	plan, err := tasks.Resolve("default")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(taskNames(plan)).To(Equal([]string{"elm-init", "test", "watch", "default"}))

	plan, err = tasks.Resolve("make")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(taskNames(plan)).To(Equal([]string{"elm-init", "make"}))
}

func TestResolveDiamond(t *testing.T) {
	g := NewWithT(t)
	tasks := TaskList{}
	for _, task := range []*Task{
		{Short: "base"},
		{Short: "left", Deps: []string{"base"}},
		{Short: "right", Deps: []string{"base"}},
		{Short: "top", Deps: []string{"left", "right", "base"}},
	} {
		g.Expect(tasks.Register(task)).To(Succeed())
	}

	plan, err := tasks.Resolve("top")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(taskNames(plan)).To(Equal([]string{"base", "left", "right", "top"}))
}

func TestResolveCycle(t *testing.T) {
	g := NewWithT(t)
	tasks := TaskList{}
	g.Expect(tasks.Register(&Task{Short: "a", Deps: []string{"b"}})).To(Succeed())
	g.Expect(tasks.Register(&Task{Short: "b", Deps: []string{"c"}})).To(Succeed())
	g.Expect(tasks.Register(&Task{Short: "c", Deps: []string{"b"}})).To(Succeed())

	_, err := tasks.Resolve("a")
	g.Expect(err).To(MatchError(ErrCycle))
	g.Expect(err.Error()).To(ContainSubstring("b -> c -> b"))
}

func TestResolveMissing(t *testing.T) {
	g := NewWithT(t)
	tasks := TaskList{}
	g.Expect(tasks.Register(&Task{Short: "a", Deps: []string{"nope"}})).To(Succeed())

	_, err := tasks.Resolve("a")
	g.Expect(err).To(MatchError(ErrTaskNotFound))
	g.Expect(err.Error()).To(ContainSubstring("required by a"))

	_, err = tasks.Resolve("b")
	g.Expect(err).To(MatchError(ErrTaskNotFound))
}

func TestRegister(t *testing.T) {
	g := NewWithT(t)
	tasks := TaskList{}

	g.Expect(tasks.Register(&Task{})).NotTo(Succeed())
	g.Expect(tasks.Register(&Task{Short: "make"})).To(Succeed())
	g.Expect(tasks.Register(&Task{Short: "make"})).To(MatchError(ContainSubstring("already registered")))
}

func TestNamesSkipsHidden(t *testing.T) {
	g := NewWithT(t)
	tasks := DefaultTasks("/project")
	g.Expect(tasks.Register(&Task{Short: "auto#abc", Hidden: true})).To(Succeed())

	g.Expect(tasks.Names()).To(Equal([]string{"default", "elm-init", "make", "test", "watch"}))
}
