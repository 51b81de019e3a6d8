// Package programs contains coroutines written in the form an instrumenting
// compiler produces for the corun runtime: every function that may suspend
// restores its frame when loading, captures it when saving, and dispatches
// on its instruction pointer to jump back to where it left off.
package programs

import (
	"errors"
	"fmt"
	"slices"

	"github.com/stealthrocket/corun"
)

// ErrUnknownProgram is returned by Lookup for names that are not registered.
var ErrUnknownProgram = errors.New("unknown program")

// Params configures a program.
type Params struct {
	Steps int `toml:"steps"`
	Depth int `toml:"depth"`
}

// Map converts p to the form stored in checkpoints.
func (p Params) Map() map[string]int {
	return map[string]int{"steps": p.Steps, "depth": p.Depth}
}

// ParamsFromMap is the inverse of Params.Map.
func ParamsFromMap(m map[string]int) Params {
	return Params{Steps: m["steps"], Depth: m["depth"]}
}

// Output collects what a program reports to its caller. Pass a *Output as
// the runner context to observe it.
type Output struct {
	// Values emitted right before each suspension.
	Values []int

	// Result is set when the program completes.
	Result int
	Done   bool
}

func emit(c *corun.Continuation, v int) {
	if out, ok := c.Context().(*Output); ok {
		out.Values = append(out.Values, v)
	}
}

func complete(c *corun.Continuation, result int) {
	if out, ok := c.Context().(*Output); ok {
		out.Result, out.Done = result, true
	}
}

// restore pops the frame of the calling function when the continuation is
// loading, or returns a fresh frame.
func restore(c *corun.Continuation) (corun.Frame, error) {
	if !c.Loading() {
		return corun.Frame{}, nil
	}
	return c.PopFrame()
}

// Program describes a registered program.
type Program struct {
	Name        string
	Description string
	New         func(Params) (corun.Coroutine, error)
}

var registry = map[string]Program{}

func register(p Program) {
	if _, ok := registry[p.Name]; ok {
		panic("program registered twice: " + p.Name)
	}
	registry[p.Name] = p
}

// Lookup creates the coroutine of the program registered under name.
func Lookup(name string, p Params) (corun.Coroutine, error) {
	prog, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
	}
	co, err := prog.New(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return co, nil
}

// Describe returns the registered program called name.
func Describe(name string) (Program, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns the names of all registered programs, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func init() {
	register(Program{
		Name:        "counter",
		Description: "counts from 0 to steps-1, suspending after each number",
		New:         newCounter,
	})
	register(Program{
		Name:        "nested",
		Description: "recurses depth calls deep and suspends steps times at the bottom",
		New:         newNested,
	})
	register(Program{
		Name:        "fib",
		Description: "generates the first steps Fibonacci numbers, unwinding on each yield",
		New:         newFib,
	})
}
