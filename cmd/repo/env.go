package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/config"
	iexec "github.com/quara-dev/repo/internal/exec"
	"github.com/quara-dev/repo/internal/logging"
)

// newRunner builds the runner used for every external command.
var newRunner = func() iexec.CommandRunner { return iexec.NewRunner() }

// env is what a command needs once the repository is located: its root,
// the effective configuration, a logger and the command runner.
type env struct {
	root    string
	cfg     *config.Config
	log     *zap.Logger
	runner  iexec.CommandRunner
	noColor bool
	stdout  io.Writer
	stderr  io.Writer
	closeFn func()
}

// setup locates the repository, loads its configuration, applies the
// global flags and builds the logger. Callers must call close.
func setup(cmd *cobra.Command) (*env, error) {
	start := flagRoot
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		start = wd
	}
	root, err := config.FindRoot(start)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)

	e := &env{
		root:    root,
		cfg:     cfg,
		runner:  newRunner(),
		noColor: flagNoColor || os.Getenv("NO_COLOR") != "" || !isTerminal(cmd.OutOrStdout()),
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
	}
	if e.noColor {
		color.NoColor = true
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Verbose: flagVerbose,
		File:    cfg.LogPath(root),
		Console: e.stderr,
		NoColor: e.noColor || !isTerminal(e.stderr),
	})
	if err != nil {
		return nil, err
	}
	e.log = log
	e.closeFn = closeLog
	e.log.Debug("repository located", zap.String("root", root))
	return e, nil
}

func loadConfig(root string) (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromPath(flagConfig)
	}
	return config.Load(root)
}

func (e *env) close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// applyFlags lets explicitly set global flags override the configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		cfg.Run.Parallel = flagParallel
	}
	if flags.Changed("jobs") && flagJobs > 0 {
		cfg.Run.Jobs = flagJobs
		if flagJobs > 1 {
			cfg.Run.Parallel = true
		}
	}
	if flags.Changed("quiet") {
		cfg.Run.Quiet = flagQuiet
		if flagQuiet {
			cfg.Run.Output = config.OutputCapture
		}
	}
	if flagRecord {
		cfg.History.Enabled = true
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
