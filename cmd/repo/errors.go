package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/action"
	"github.com/quara-dev/repo/internal/config"
	"github.com/quara-dev/repo/internal/discover"
	"github.com/quara-dev/repo/internal/release"
	"github.com/quara-dev/repo/internal/report"
	"github.com/quara-dev/repo/internal/scaffold"
)

// usageError marks an error as the caller's fault. It exits with
// report.ExitUsage.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErr(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitError ends the process with code without printing anything more.
// The run summary has already been written.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageSentinels are errors of the internal packages caused by bad input.
var usageSentinels = []error{
	action.ErrUnknownVerb,
	action.ErrBadArgs,
	discover.ErrPackageNotFound,
	scaffold.ErrPathExists,
	scaffold.ErrInvalidName,
	scaffold.ErrInvalidKind,
	release.ErrUnknownStep,
	release.ErrInvalidVersion,
	release.ErrNoRule,
	release.ErrPrerelease,
	config.ErrUnknownKey,
}

func isUsage(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}
	for _, s := range usageSentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	// cobra reports unknown subcommands with a plain error.
	return strings.HasPrefix(err.Error(), "unknown command ")
}

// exitCode maps the error returned by a command to the process exit
// code, printing it to w.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return report.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if isUsage(err) {
		fmt.Fprintln(w, "Run 'repo --help' for usage.")
		return report.ExitUsage
	}
	return report.ExitFailure
}

// usageArgs turns argument validation failures into usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageErr(fn(cmd, args))
	}
}
