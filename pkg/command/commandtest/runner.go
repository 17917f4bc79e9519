// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/openfroyo/deployengine/pkg/command"
)

// Response is the scripted outcome of a command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Runner answers commands by the longest matching argument prefix and
// records every invocation.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []command.Command

	// OnRun is invoked for every command before the response is chosen.
	OnRun func(cmd command.Command)
}

// NewRunner creates an empty scripted runner. Unscripted commands succeed
// with no output.
func NewRunner() *Runner {
	return &Runner{responses: make(map[string]Response)}
}

// On scripts the response for commands whose arguments start with prefix,
// e.g. "upgrade --install app".
func (r *Runner) On(prefix string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = resp
	return r
}

// Run implements command.Runner.
func (r *Runner) Run(_ context.Context, cmd command.Command) (*command.Result, error) {
	if r.OnRun != nil {
		r.OnRun(cmd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)

	line := strings.Join(cmd.Args, " ")
	best, found := "", false
	for prefix := range r.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		return &command.Result{}, nil
	}
	resp := r.responses[best]
	if resp.Err != nil {
		return &command.Result{Stderr: resp.Stderr}, resp.Err
	}
	return &command.Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

// Calls returns the recorded commands.
func (r *Runner) Calls() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]command.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Lines returns the argument lines of the recorded commands.
func (r *Runner) Lines() []string {
	calls := r.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, strings.Join(c.Args, " "))
	}
	return out
}

// Last returns the most recent command.
func (r *Runner) Last() command.Command {
	calls := r.Calls()
	if len(calls) == 0 {
		return command.Command{}
	}
	return calls[len(calls)-1]
}
