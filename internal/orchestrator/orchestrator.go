package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quara-dev/repo/internal/action"
	"github.com/quara-dev/repo/internal/config"
	iexec "github.com/quara-dev/repo/internal/exec"
	"github.com/quara-dev/repo/internal/graph"
	"github.com/quara-dev/repo/pkg/models"
)

// Environment variables exported to every external step.
const (
	EnvPackage     = "REPO_PACKAGE"
	EnvPackageRoot = "REPO_PACKAGE_ROOT"
	EnvRunID       = "REPO_RUN_ID"
)

// Orchestrator applies an action to packages, one result per package.
type Orchestrator struct {
	runner    iexec.CommandRunner
	opts      *orchestratorOptions
	logger    *zap.Logger
	collector *Collector

	// outMu keeps captured output of different packages from interleaving.
	outMu sync.Mutex
}

// New creates an Orchestrator that runs external steps through runner.
func New(runner iexec.CommandRunner, options ...Option) *Orchestrator {
	opts := defaultOptions()
	for _, opt := range options {
		opt(opts)
	}
	if opts.jobs < 1 {
		opts.jobs = 1
	}
	if opts.stdout == nil {
		opts.stdout = os.Stdout
	}
	if opts.stderr == nil {
		opts.stderr = os.Stderr
	}
	opts.runID = uuid.New().String()
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		runner: runner,
		opts:   opts,
		logger: logger.With(zap.String("run", opts.runID)),
	}
	if opts.outputDir != "" {
		o.collector = NewCollector(opts.outputDir)
	}
	return o
}

// RunID returns the identifier of the run.
func (o *Orchestrator) RunID() string {
	return o.opts.runID
}

// Run applies act to every package in pkgs and returns one result per
// package in the order of pkgs. Failures never stop the run; cancelling
// ctx stops the running step and leaves unstarted packages skipped.
func (o *Orchestrator) Run(ctx context.Context, act action.Action, pkgs []*models.Package) []models.Result {
	results := make([]models.Result, len(pkgs))
	for i, pkg := range pkgs {
		results[i] = models.NewResult(pkg, act.Name())
	}
	if len(pkgs) == 0 {
		return results
	}

	o.logger.Debug("run started",
		zap.String("action", act.Name()),
		zap.Int("packages", len(pkgs)),
		zap.Bool("parallel", o.opts.parallel),
		zap.Int("jobs", o.opts.jobs))

	caps := act.Capabilities()
	switch {
	case caps.Ordered:
		dag := o.plan(act, pkgs, results)
		if dag == nil {
			return results
		}
		if o.opts.parallel {
			o.runGraph(ctx, act, dag, pkgs, results)
		} else {
			o.runSorted(ctx, act, dag, pkgs, results)
		}
	case o.opts.parallel && caps.Isolated:
		o.runParallel(ctx, act, pkgs, results)
	default:
		if o.opts.parallel {
			o.logger.Debug("action touches other packages, running sequentially", zap.String("action", act.Name()))
		}
		for i, pkg := range pkgs {
			results[i] = o.runOrSkip(ctx, act, pkg)
		}
	}
	return results
}

// runParallel runs independent packages on a bounded group.
func (o *Orchestrator) runParallel(ctx context.Context, act action.Action, pkgs []*models.Package, results []models.Result) {
	var g errgroup.Group
	g.SetLimit(o.opts.jobs)
	for i, pkg := range pkgs {
		g.Go(func() error {
			results[i] = o.runOrSkip(ctx, act, pkg)
			return nil
		})
	}
	_ = g.Wait()
}

// plan builds the dependency graph of pkgs. Packages caught in a cycle
// get an error result and are removed from the graph so the rest can
// still run. Returns nil when no order can be built at all.
func (o *Orchestrator) plan(act action.Action, pkgs []*models.Package, results []models.Result) *graph.DependencyGraph {
	dag := graph.New()
	dag.SetDebugLog(func(format string, args ...interface{}) {
		o.logger.Debug(fmt.Sprintf(format, args...))
	})

	err := dag.Build(pkgs)
	var cerr *graph.CycleError
	switch {
	case err == nil:
		return dag
	case errors.As(err, &cerr):
	default:
		o.failAll(act, pkgs, results, err)
		return nil
	}

	index := indexByPath(pkgs)
	for _, cycle := range cerr.Cycles {
		msg := graph.DescribeCycle(cycle)
		o.logger.Error("packages not run", zap.String("action", act.Name()), zap.String("reason", msg))
		for _, p := range cycle {
			res := &results[index[p.Path]]
			res.Status = models.StatusError
			res.ExitCode = -1
			res.Error = msg
			o.emit(Event{Type: EventPackageFinished, Package: p, Action: act.Name(), Status: res.Status, Error: res.Error})
		}
	}
	for _, cycle := range cerr.Cycles {
		for _, p := range cycle {
			dag.Remove(p.Path)
		}
	}
	return dag
}

// runSorted runs the packages of dag one at a time, dependencies first.
func (o *Orchestrator) runSorted(ctx context.Context, act action.Action, dag *graph.DependencyGraph, pkgs []*models.Package, results []models.Result) {
	order, err := dag.TopologicalSort()
	if err != nil {
		o.failAll(act, pkgs, results, err)
		return
	}
	index := indexByPath(pkgs)
	for _, pkg := range order {
		res := o.runOrSkip(ctx, act, pkg)
		results[index[pkg.Path]] = res
		o.warnDependents(dag, res)
	}
}

// runGraph runs packages in parallel waves, starting a package only once
// all of its private dependencies have finished.
func (o *Orchestrator) runGraph(ctx context.Context, act action.Action, dag *graph.DependencyGraph, pkgs []*models.Package, results []models.Result) {
	index := indexByPath(pkgs)

	done := make(chan string, len(pkgs))
	var g errgroup.Group
	g.SetLimit(o.opts.jobs)

	inflight := 0
	for !dag.Done() {
		for _, pkg := range dag.Ready() {
			inflight++
			g.Go(func() error {
				res := o.runOrSkip(ctx, act, pkg)
				results[index[pkg.Path]] = res
				o.warnDependents(dag, res)
				done <- pkg.Path
				return nil
			})
		}
		if inflight == 0 {
			break
		}
		dag.MarkComplete(<-done)
		inflight--
	}
	_ = g.Wait()
}

// warnDependents logs the packages that still run after a dependency of
// theirs did not pass.
func (o *Orchestrator) warnDependents(dag *graph.DependencyGraph, res models.Result) {
	if res.Status.OK() || res.Package == nil {
		return
	}
	var names []string
	for _, dir := range dag.GetDependents(res.Package.Path) {
		if p := dag.Get(dir); p != nil {
			names = append(names, p.Name)
		}
	}
	if len(names) > 0 {
		o.logger.Warn("dependency did not pass, dependents still run",
			zap.String("package", res.Name),
			zap.String("status", string(res.Status)),
			zap.Strings("dependents", names))
	}
}

func (o *Orchestrator) failAll(act action.Action, pkgs []*models.Package, results []models.Result, err error) {
	o.logger.Error("cannot order packages", zap.String("action", act.Name()), zap.Error(err))
	for i := range pkgs {
		results[i].Status = models.StatusError
		results[i].Error = err.Error()
	}
}

func indexByPath(pkgs []*models.Package) map[string]int {
	index := make(map[string]int, len(pkgs))
	for i, p := range pkgs {
		index[p.Path] = i
	}
	return index
}

func (o *Orchestrator) runOrSkip(ctx context.Context, act action.Action, pkg *models.Package) models.Result {
	if err := ctx.Err(); err != nil {
		res := models.NewResult(pkg, act.Name())
		res.Error = "not started: " + err.Error()
		o.logger.Debug("package skipped", zap.String("package", pkg.Name))
		o.emit(Event{Type: EventPackageSkipped, Package: pkg, Action: act.Name(), Status: res.Status, Error: res.Error})
		return res
	}
	return o.runPackage(ctx, act, pkg)
}

// runPackage runs the steps of act against pkg. The first failing step
// ends the package.
func (o *Orchestrator) runPackage(ctx context.Context, act action.Action, pkg *models.Package) models.Result {
	res := models.NewResult(pkg, act.Name())
	start := time.Now()
	log := o.logger.With(zap.String("package", pkg.Name), zap.String("action", act.Name()))

	o.emit(Event{Type: EventPackageStarted, Package: pkg, Action: act.Name()})
	log.Debug("package started", zap.String("dir", pkg.Path))

	capture := o.opts.parallel || o.opts.output == config.OutputCapture
	var buf bytes.Buffer
	stdout, stderr := o.opts.stdout, o.opts.stderr
	if capture {
		stdout, stderr = &buf, &buf
	}

	var sink *packageSink
	if o.collector != nil {
		sink = &packageSink{collector: o.collector}
	}

	res.Status = models.StatusPassed
	res.ExitCode = 0

	steps, err := act.Steps(pkg)
	if err != nil {
		res.Status = models.StatusError
		res.ExitCode = -1
		res.Error = err.Error()
	}

	for _, step := range steps {
		res.Step = step.Name
		if err := ctx.Err(); err != nil {
			res.Status = models.StatusFailed
			res.ExitCode = -1
			res.Error = fmt.Sprintf("%s interrupted: %v", step.Name, err)
			break
		}

		if o.opts.dryRun {
			o.printStep(pkg, step)
			continue
		}

		if step.External() {
			if _, err := o.runner.LookPath(step.Argv[0]); err != nil {
				res.Status = models.StatusError
				res.ExitCode = -1
				res.Error = fmt.Sprintf("%s: tool not found: %v", step.Name, err)
				break
			}

			log.Debug("exec", zap.String("step", step.Name), zap.Strings("argv", step.Argv))
			dir := pkg.Path
			if step.Dir != "" {
				dir = step.Dir
			}
			code, err := o.runner.Exec(ctx, iexec.Invocation{
				Dir:    dir,
				Name:   step.Argv[0],
				Args:   step.Argv[1:],
				Env:    o.env(pkg),
				Stdout: stdout,
				Stderr: stderr,
			})
			res.ExitCode = code
			if err != nil {
				res.Status = models.StatusError
				if ctx.Err() != nil {
					res.Status = models.StatusFailed
				}
				res.Error = err.Error()
				break
			}
			if code != 0 {
				res.Status = models.StatusFailed
				res.Error = fmt.Sprintf("%s exited with code %d", step.Name, code)
				break
			}
			continue
		}

		sc := &action.StepContext{Package: pkg, Stdout: stdout, Stderr: stderr, Logger: log}
		if sink != nil {
			sc.Artifacts = sink
		}
		if err := step.Func(ctx, sc); err != nil {
			res.Status = models.StatusFailed
			res.ExitCode = -1
			res.Error = fmt.Sprintf("%s: %v", step.Name, err)
			break
		}
	}

	if res.Status == models.StatusPassed {
		res.Step = ""
	}
	if sink != nil {
		res.Artifacts = sink.files
	}
	res.Duration = time.Since(start)
	if capture {
		res.Output = buf.Bytes()
		o.flush(res)
	}

	if res.Status.OK() {
		log.Debug("package finished", zap.Duration("duration", res.Duration))
	} else {
		log.Warn("package did not pass",
			zap.String("status", string(res.Status)),
			zap.String("step", res.Step),
			zap.Int("exit_code", res.ExitCode),
			zap.String("error", res.Error))
	}
	o.emit(Event{
		Type:     EventPackageFinished,
		Package:  pkg,
		Action:   act.Name(),
		Status:   res.Status,
		Duration: res.Duration,
		Error:    res.Error,
	})
	return res
}

// flush prints the captured output of a finished package in one piece.
func (o *Orchestrator) flush(res models.Result) {
	if len(res.Output) == 0 {
		return
	}
	if o.opts.quiet && res.Status.OK() {
		return
	}
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.opts.stdout, "==> %s (%s)\n", res.Name, res.Action)
	writeAll(o.opts.stdout, res.Output)
}

// printStep writes the command line of step as a shell would read it.
func (o *Orchestrator) printStep(pkg *models.Package, step action.Step) {
	line := "(" + step.Name + ")"
	if step.External() {
		line = shellquote.Join(step.Argv...)
	}
	where := pkg.RelPath
	if step.Dir != "" {
		if rel, err := filepath.Rel(pkg.Path, step.Dir); err == nil {
			where = path.Join(pkg.RelPath, filepath.ToSlash(rel))
		}
	}
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.opts.stdout, "%s$ %s\n", where, line)
}

func writeAll(w io.Writer, p []byte) {
	_, _ = w.Write(p)
	if p[len(p)-1] != '\n' {
		_, _ = io.WriteString(w, "\n")
	}
}

func (o *Orchestrator) env(pkg *models.Package) []string {
	return []string{
		EnvPackage + "=" + pkg.Name,
		EnvPackageRoot + "=" + pkg.Path,
		EnvRunID + "=" + o.opts.runID,
	}
}

func (o *Orchestrator) emit(ev Event) {
	if o.opts.emitter == nil {
		return
	}
	ev.RunID = o.opts.runID
	ev.Timestamp = time.Now()
	o.opts.emitter.Emit(ev)
}
