package models

import "time"

// Status is the outcome of one action on one package.
type Status string

const (
	// StatusPassed indicates every step exited with code 0.
	StatusPassed Status = "passed"
	// StatusFailed indicates a step exited non-zero or was interrupted.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the package was never started, e.g. after
	// cancellation.
	StatusSkipped Status = "skipped"
	// StatusError indicates a step could not be run at all, e.g. the tool
	// is not installed.
	StatusError Status = "error"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError:
		return true
	default:
		return false
	}
}

// OK reports whether the status counts as success.
func (s Status) OK() bool {
	return s == StatusPassed
}

// Result is the outcome of one verb applied to one package.
type Result struct {
	// Package is the package the action ran against.
	Package *Package `json:"-" yaml:"-"`
	// Name duplicates Package.Name for serialization.
	Name string `json:"package" yaml:"package"`
	// Action is the verb that was run.
	Action string `json:"action" yaml:"action"`
	// Status is the outcome.
	Status Status `json:"status" yaml:"status"`
	// ExitCode is the exit code of the last step that ran, or -1 when no
	// process exited.
	ExitCode int `json:"exit_code" yaml:"exit_code"`
	// Step is the name of the step that failed, if any.
	Step string `json:"step,omitempty" yaml:"step,omitempty"`
	// Output is the captured stdout and stderr. Empty in stream mode.
	Output []byte `json:"-" yaml:"-"`
	// Duration is the wall time spent on the package.
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Error is a description of the failure, if any.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// Artifacts lists files collected into the output directory.
	Artifacts []string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// NewResult returns a result for pkg in the skipped state. The executor
// fills it in once the package actually runs.
func NewResult(pkg *Package, action string) Result {
	return Result{
		Package:  pkg,
		Name:     pkg.Name,
		Action:   action,
		Status:   StatusSkipped,
		ExitCode: -1,
	}
}
