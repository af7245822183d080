package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/action"
	"github.com/quara-dev/repo/internal/discover"
	"github.com/quara-dev/repo/internal/orchestrator"
	"github.com/quara-dev/repo/internal/report"
	"github.com/quara-dev/repo/internal/state"
	"github.com/quara-dev/repo/pkg/models"
)

// verbRun is one invocation of a package verb.
type verbRun struct {
	verb     string
	packages []string
	opts     action.Options
	// outputDir receives collected artifacts. Empty collects nothing.
	outputDir string
}

// runVerb is the RunE body shared by the package verbs.
func runVerb(cmd *cobra.Command, r verbRun) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := e.run(cmd.Context(), r)
	if err != nil {
		return err
	}
	return e.finish(s)
}

// newAction builds the action of r with the repository settings filled in.
func (e *env) newAction(r verbRun) (action.Action, error) {
	opts := r.opts
	opts.Tools = e.cfg.Tools
	opts.Prefix = e.cfg.Prefix
	opts.TestsDir = e.cfg.TestsDir
	return action.Default().New(r.verb, opts)
}

func (e *env) discoverPackages(ctx context.Context) (*discover.Registry, error) {
	reg, err := discover.Discover(ctx, discover.Options{
		Root:     e.root,
		Layout:   e.cfg.Layout,
		Manifest: e.cfg.Manifest,
		TestsDir: e.cfg.TestsDir,
		Logger:   e.log,
	})
	if err != nil {
		return nil, fmt.Errorf("discover packages: %w", err)
	}
	e.log.Debug("packages discovered",
		zap.Int("packages", len(reg.Packages)),
		zap.Int("errors", len(reg.Errors)))
	return reg, nil
}

// run discovers the packages, selects those named by r and applies the
// verb to them. Usage errors are returned before any package is touched.
func (e *env) run(ctx context.Context, r verbRun) (*report.Summary, error) {
	act, err := e.newAction(r)
	if err != nil {
		return nil, err
	}
	reg, err := e.discoverPackages(ctx)
	if err != nil {
		return nil, err
	}
	pkgs, err := reg.Select(r.packages)
	if err != nil {
		return nil, err
	}
	if act.Capabilities().Ordered {
		// Installing a package installs its private dependencies first.
		pkgs = reg.WithDependencies(pkgs)
	}
	return e.execute(ctx, act, pkgs, reg.Errors, r.outputDir), nil
}

// execute runs act on pkgs and builds the summary of the run.
func (e *env) execute(ctx context.Context, act action.Action, pkgs []*models.Package, discErrs []*models.DiscoveryError, outputDir string) *report.Summary {
	emitter := orchestrator.NewEventEmitter(64, e.log)
	opts := []orchestrator.Option{
		orchestrator.WithOutput(e.cfg.Run.Output, e.cfg.Run.Quiet),
		orchestrator.WithWriters(e.stdout, e.stderr),
		orchestrator.WithLogger(e.log),
		orchestrator.WithEvents(emitter),
	}
	if e.cfg.Run.Parallel {
		opts = append(opts, orchestrator.WithParallel(e.cfg.Run.Jobs))
	}
	if outputDir != "" {
		opts = append(opts, orchestrator.WithOutputDir(outputDir))
	}
	if flagDryRun {
		opts = append(opts, orchestrator.WithDryRun())
	}
	orch := orchestrator.New(e.runner, opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range emitter.Events() {
			logEvent(e.log, ev)
		}
	}()

	started := time.Now()
	results := orch.Run(ctx, act, pkgs)
	emitter.Close()
	<-done
	if n := emitter.DroppedCount(); n > 0 {
		e.log.Debug("progress events dropped", zap.Uint64("dropped", n))
	}

	s := report.New(results, discErrs)
	s.RunID = orch.RunID()
	s.Action = act.Name()
	s.Started = started
	s.Duration = time.Since(started)
	s.OutputDir = outputDir
	return s
}

func logEvent(log *zap.Logger, ev orchestrator.Event) {
	fields := []zap.Field{
		zap.String("package", ev.Package.Name),
		zap.String("action", ev.Action),
	}
	switch ev.Type {
	case orchestrator.EventPackageStarted:
		log.Info("package started", fields...)
	case orchestrator.EventPackageFinished:
		fields = append(fields, zap.String("status", string(ev.Status)), zap.Duration("duration", ev.Duration))
		if ev.Error != "" {
			fields = append(fields, zap.String("error", ev.Error))
		}
		log.Info("package finished", fields...)
	case orchestrator.EventPackageSkipped:
		log.Info("package skipped", fields...)
	}
}

// finish prints the summary, writes the report and the history record,
// and turns a failed run into its exit code.
func (e *env) finish(s *report.Summary) error {
	if err := e.publish(s); err != nil {
		return err
	}
	if !s.OK() {
		return &exitError{code: s.ExitCode()}
	}
	return nil
}

// publish writes the summary everywhere it is asked for.
func (e *env) publish(s *report.Summary) error {
	fmt.Fprintln(e.stdout)
	if err := s.Render(e.stdout, report.RenderOptions{NoColor: e.noColor, ShowErrors: true}); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	if flagReport != "" {
		if err := s.WriteYAML(flagReport); err != nil {
			return err
		}
		e.log.Debug("report written", zap.String("path", flagReport))
	}
	if e.cfg.History.Enabled && !flagDryRun {
		if err := e.record(s); err != nil {
			// Recording is best effort.
			e.log.Warn("cannot record run", zap.Error(err))
		}
	}
	return nil
}

func (e *env) record(s *report.Summary) error {
	db, err := state.OpenHistory(e.cfg.HistoryPath(e.root))
	if err != nil {
		return err
	}
	defer db.Close()
	return db.RecordRun(state.RunFromSummary(s))
}
