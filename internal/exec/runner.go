package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/cli/safeexec"
)

// ErrNoDir is returned by Exec when the invocation has no working directory.
var ErrNoDir = errors.New("invocation has no working directory")

// interruptGrace is how long a process gets to exit after an interrupt
// before it is killed.
const interruptGrace = 5 * time.Second

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// Exec runs inv and maps its termination to an exit code.
func (r *ExecRunner) Exec(ctx context.Context, inv Invocation) (int, error) {
	if inv.Dir == "" {
		return -1, ErrNoDir
	}

	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	if runtime.GOOS != "windows" {
		// Let test runners clean up before they are killed.
		cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	}
	cmd.WaitDelay = interruptGrace

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", inv.Name, err)
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, fmt.Errorf("%s interrupted: %w", inv.Name, ctxErr)
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait %s: %w", inv.Name, err)
}

// LookPath reports where name is found in PATH. The current directory is
// never searched, on Windows included.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return safeexec.LookPath(name)
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
