package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	iexec "github.com/quara-dev/repo/internal/exec"
)

// ExitError is returned when git exits with a non-zero code.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("git %s: exit code %d", strings.Join(e.Args, " "), e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExecRunner implements Runner on top of a CommandRunner.
type ExecRunner struct {
	repoPath string
	cmd      iexec.CommandRunner
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string, cmd iexec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: cmd}
}

// run executes a git command and returns its trimmed standard output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	code, err := r.cmd.Exec(ctx, iexec.Invocation{
		Dir:    r.repoPath,
		Name:   "git",
		Args:   args,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	if code != 0 {
		return "", &ExitError{Args: args, Code: code, Stderr: strings.TrimSpace(stderr.String())}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	return err
}

// exists runs a --verify style command where exit 1 means "no".
func (r *ExecRunner) exists(ctx context.Context, args ...string) (bool, error) {
	_, err := r.run(ctx, args...)
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return false, nil
	}
	return false, err
}

// CheckoutBranch switches to the specified branch.
func (r *ExecRunner) CheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", name)
}

// CreateAndCheckoutBranch creates and switches to a new branch (git checkout -b).
func (r *ExecRunner) CreateAndCheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", "-b", name)
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	return r.exists(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status(ctx context.Context) (string, error) {
	return r.run(ctx, "status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges(ctx context.Context) (bool, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// Add stages the specified paths for commit.
func (r *ExecRunner) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	return r.runSilent(ctx, args...)
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(ctx context.Context, message string, noVerify bool) error {
	args := []string{"commit", "-m", message}
	if noVerify {
		args = append(args, "--no-verify")
	}
	return r.runSilent(ctx, args...)
}

// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
func (r *ExecRunner) MergeNoFFMessage(ctx context.Context, branch, message string) error {
	return r.runSilent(ctx, "merge", "--no-ff", "-m", message, branch)
}

// Push pushes refs to remote. With no refs the current branch is pushed.
func (r *ExecRunner) Push(ctx context.Context, remote string, refs ...string) error {
	args := append([]string{"push", remote}, refs...)
	if len(refs) == 0 {
		args = append(args, "HEAD")
	}
	return r.runSilent(ctx, args...)
}

var _ Runner = (*ExecRunner)(nil)
