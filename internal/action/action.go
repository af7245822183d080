// Package action defines the verbs repo can apply to a package and the
// steps each verb runs.
package action

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/config"
	"github.com/quara-dev/repo/pkg/models"
)

// ErrUnknownVerb is returned by Lookup for a verb that is not registered.
var ErrUnknownVerb = errors.New("unknown verb")

// ErrBadArgs is returned by a factory when the options do not fit the verb.
var ErrBadArgs = errors.New("invalid arguments")

// Capabilities describe how the executor may schedule an action.
type Capabilities struct {
	// Isolated actions touch nothing outside the package and may run in
	// any order.
	Isolated bool
	// ProducesExitCode is true when at least one step is an external
	// process whose exit code decides the outcome.
	ProducesExitCode bool
	// Ordered actions must run a package after its private dependencies.
	Ordered bool
	// ProducesArtifacts actions hand files to the artifact collector.
	ProducesArtifacts bool
}

// Step is one unit of work on a package: either an external command or an
// in-process function. Exactly one of Argv and Func is set.
type Step struct {
	// Name identifies the step in results and logs.
	Name string
	// Argv is the program and its arguments. Argv[0] is looked up in PATH.
	Argv []string
	// Dir is the working directory of Argv. Empty means the package
	// directory.
	Dir string
	// Func runs in-process.
	Func func(ctx context.Context, sc *StepContext) error
}

// External reports whether the step runs a process.
func (s Step) External() bool {
	return len(s.Argv) > 0
}

// StepContext is handed to in-process steps.
type StepContext struct {
	Package *models.Package
	Stdout  io.Writer
	Stderr  io.Writer
	// Artifacts receives files produced by the step. Nil when the run
	// has no output directory.
	Artifacts ArtifactSink
	Logger    *zap.Logger
}

// ArtifactSink moves produced files into the run output directory.
type ArtifactSink interface {
	// Collect moves src into the output directory and returns the new
	// path. Two packages producing the same file name is an error.
	Collect(pkg *models.Package, src string) (string, error)
}

// Action is a verb bound to its options.
type Action interface {
	// Name returns the verb.
	Name() string
	// Capabilities returns the scheduling constraints of the verb.
	Capabilities() Capabilities
	// Steps returns the ordered steps to run against pkg. The first
	// failing step stops the remaining ones.
	Steps(pkg *models.Package) ([]Step, error)
}

// Options carry everything a factory may need. Verbs ignore the fields
// that do not concern them.
type Options struct {
	// Tools holds the argv prefix of every external tool.
	Tools config.ToolsConfig
	// Prefix is the shared distribution prefix of local packages.
	Prefix string
	// TestsDir is the package test directory name.
	TestsDir string

	// Extras are passed to install as -E flags.
	Extras []string
	// Markers are combined with "and" into the -m expression of test.
	Markers []string
	// Exprs are combined with "and" into the -k expression of test.
	Exprs []string
	// Coverage adds --cov for each source directory to test.
	Coverage bool
	// Check makes format report instead of rewrite.
	Check bool
	// Format restricts build to "wheel" or "sdist".
	Format string
	// Version is the target version of bump.
	Version string
}

// Factory builds an action from options.
type Factory func(opts Options) (Action, error)

// verb is the Action implementation shared by every built-in verb.
type verb struct {
	name  string
	caps  Capabilities
	steps func(pkg *models.Package) ([]Step, error)
}

func (v *verb) Name() string               { return v.name }
func (v *verb) Capabilities() Capabilities { return v.caps }

func (v *verb) Steps(pkg *models.Package) ([]Step, error) {
	return v.steps(pkg)
}
