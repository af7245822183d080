// Package exectest provides a scripted CommandRunner for tests.
package exectest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	iexec "github.com/quara-dev/repo/internal/exec"
)

// Call records one Exec or Run call.
type Call struct {
	Dir  string
	Name string
	Args []string
	Env  []string
}

// Line renders the call as "name arg1 arg2".
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is what a scripted call returns.
type Response struct {
	ExitCode int
	Err      error
	Stdout   string
	Stderr   string
}

// Runner is a CommandRunner that records calls and answers from a script.
// It is safe for concurrent use.
type Runner struct {
	mu    sync.Mutex
	calls []Call

	// Respond decides the response for a call. Nil means exit 0.
	Respond func(c Call) Response
	// Missing lists tools that LookPath does not find.
	Missing map[string]bool
	// Block, when set, is waited on before each Exec returns, unless the
	// context is done first.
	Block chan struct{}
}

// Calls returns a copy of the recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsIn returns recorded calls whose Dir is dir.
func (r *Runner) CallsIn(dir string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Dir == dir {
			out = append(out, c)
		}
	}
	return out
}

func (r *Runner) record(c Call) Response {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	respond := r.Respond
	r.mu.Unlock()

	if respond == nil {
		return Response{}
	}
	return respond(c)
}

// Run implements exec.CommandRunner.
func (r *Runner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	resp := r.record(Call{Dir: workDir, Name: name, Args: append([]string(nil), args...)})
	if resp.Err != nil {
		return []byte(resp.Stdout + resp.Stderr), resp.Err
	}
	if resp.ExitCode != 0 {
		return []byte(resp.Stdout + resp.Stderr), fmt.Errorf("exit status %d", resp.ExitCode)
	}
	return []byte(resp.Stdout + resp.Stderr), nil
}

// Exec implements exec.CommandRunner.
func (r *Runner) Exec(ctx context.Context, inv iexec.Invocation) (int, error) {
	resp := r.record(Call{
		Dir:  inv.Dir,
		Name: inv.Name,
		Args: append([]string(nil), inv.Args...),
		Env:  append([]string(nil), inv.Env...),
	})

	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return -1, fmt.Errorf("%s interrupted: %w", inv.Name, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return -1, fmt.Errorf("%s interrupted: %w", inv.Name, err)
	}

	if inv.Stdout != nil && resp.Stdout != "" {
		fmt.Fprint(inv.Stdout, resp.Stdout)
	}
	if inv.Stderr != nil && resp.Stderr != "" {
		fmt.Fprint(inv.Stderr, resp.Stderr)
	}
	if resp.Err != nil {
		return -1, resp.Err
	}
	return resp.ExitCode, nil
}

// LookPath implements exec.CommandRunner.
func (r *Runner) LookPath(name string) (string, error) {
	if r.Missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

var _ iexec.CommandRunner = (*Runner)(nil)
