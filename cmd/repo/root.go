package main

import (
	"context"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagRoot     string
	flagConfig   string
	flagParallel bool
	flagJobs     int
	flagQuiet    bool
	flagVerbose  bool
	flagNoColor  bool
	flagReport   string
	flagRecord   bool
	flagDryRun   bool
)

var rootCmd = &cobra.Command{
	Use:   "repo",
	Short: "Monorepo package orchestrator",
	Long: `repo runs development tasks across the Python packages of a poetry
monorepo: install, test, lint, format, typecheck, build, update, clean and
bump, one package after the other or in parallel.

Packages are found under the layout directories (libraries, plugins and
applications by default). Every verb accepts package names to restrict the
run; without names it applies to every package.

Exit codes:
  0  every package passed
  1  a package failed, errored or was skipped, or a manifest is invalid
  2  usage error`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := interruptContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	return exitCode(rootCmd.ErrOrStderr(), err)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRoot, "root", "", "Repository root (default: nearest .repo.yaml or .git above the current directory)")
	pf.StringVar(&flagConfig, "config", "", "Read settings from `FILE` instead of the user and project config files")
	pf.BoolVar(&flagParallel, "parallel", false, "Run packages in parallel")
	pf.IntVarP(&flagJobs, "jobs", "j", 0, "Maximum packages run at once; more than one implies --parallel")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "Capture tool output and show it only for packages that did not pass")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug messages")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	pf.StringVar(&flagReport, "report", "", "Write a YAML report of the run to `FILE`")
	pf.BoolVar(&flagRecord, "record", false, "Record the run in the history database")
	pf.BoolVarP(&flagDryRun, "dry-run", "n", false, "Print the commands instead of running them")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErr(err)
	})

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(typecheckCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(bumpCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
