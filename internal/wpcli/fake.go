package wpcli

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation seen by the Fake runner.
type Call struct {
	Command string
	Args    []string
	Flags   map[string]string
}

// Fake is a scripted Runner for tests. Results are matched by subcommand;
// unscripted commands succeed with empty output.
type Fake struct {
	mu       sync.Mutex
	results  map[string]*Result
	handlers map[string]func(Call) *Result
	Calls    []Call
}

func NewFake() *Fake {
	return &Fake{
		results:  make(map[string]*Result),
		handlers: make(map[string]func(Call) *Result),
	}
}

// Script sets the result returned for a subcommand.
func (f *Fake) Script(command string, result *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = result
}

// Handle installs a function invoked for a subcommand, for tests that
// need side effects such as writing the file a command would produce.
func (f *Fake) Handle(command string, fn func(Call) *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[command] = fn
}

func (f *Fake) Run(_ context.Context, command string, args []string, flags map[string]string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := make(map[string]string, len(flags))
	for k, v := range flags {
		copied[k] = v
	}
	call := Call{Command: command, Args: append([]string(nil), args...), Flags: copied}
	f.Calls = append(f.Calls, call)

	if fn, ok := f.handlers[command]; ok {
		return fn(call), nil
	}
	if r, ok := f.results[command]; ok {
		return r, nil
	}
	return &Result{}, nil
}

// CallsFor returns the recorded calls for one subcommand.
func (f *Fake) CallsFor(command string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.Calls {
		if c.Command == command || strings.HasPrefix(c.Command, command+" ") {
			out = append(out, c)
		}
	}
	return out
}
