package orchestrator

import (
	"io"

	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/config"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	parallel  bool
	jobs      int
	output    string
	quiet     bool
	stdout    io.Writer
	stderr    io.Writer
	outputDir string
	runID     string
	logger    *zap.Logger
	emitter   *EventEmitter
	dryRun    bool
}

// WithParallel runs up to jobs packages at once. jobs < 1 means one.
func WithParallel(jobs int) Option {
	return func(o *orchestratorOptions) {
		o.parallel = true
		o.jobs = jobs
	}
}

// WithOutput sets the output mode (config.OutputStream or
// config.OutputCapture). When quiet, captured output is only printed for
// packages that did not pass.
func WithOutput(mode string, quiet bool) Option {
	return func(o *orchestratorOptions) {
		o.output = mode
		o.quiet = quiet
	}
}

// WithWriters sets where process output goes. Defaults to os.Stdout and
// os.Stderr.
func WithWriters(stdout, stderr io.Writer) Option {
	return func(o *orchestratorOptions) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithOutputDir sets the directory artifacts are collected into. Without
// it, artifact-producing steps collect nothing.
func WithOutputDir(dir string) Option {
	return func(o *orchestratorOptions) { o.outputDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithEvents sets the emitter that receives progress events.
func WithEvents(e *EventEmitter) Option {
	return func(o *orchestratorOptions) { o.emitter = e }
}

// WithDryRun prints the steps of every package instead of running them.
// Every package passes.
func WithDryRun() Option {
	return func(o *orchestratorOptions) { o.dryRun = true }
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		jobs:   1,
		output: config.OutputStream,
	}
}
