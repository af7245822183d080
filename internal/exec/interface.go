// Package exec provides an interface for command execution.
package exec

import (
	"context"
	"io"
)

// Invocation describes one external process run against one directory.
type Invocation struct {
	// Dir is the working directory. Required.
	Dir string
	// Name is the program to run, looked up in PATH.
	Name string
	// Args are passed to the program as-is, without a shell.
	Args []string
	// Env is appended to the parent environment.
	Env []string
	// Stdin is the process input. Nil reads from the null device.
	Stdin io.Reader
	// Stdout and Stderr receive the process output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Exec runs inv to completion and returns its exit code. A non-zero exit
	// is not an error. err is set only when the process could not be
	// started or was interrupted by ctx; the exit code is then -1.
	Exec(ctx context.Context, inv Invocation) (exitCode int, err error)

	// LookPath reports where name is found in PATH.
	LookPath(name string) (string, error)
}
