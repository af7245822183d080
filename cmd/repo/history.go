package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/state"
)

var (
	historyLimit   int
	historyAction  string
	historyPackage string
	historyPurge   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "Show recorded runs",
	Long: `List recorded runs, most recent first, or show the per-package results
of one run. Runs are recorded when history.enabled is set or --record is
given.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().StringVar(&historyAction, "action", "", "Only list runs of this verb")
	historyCmd.Flags().StringVar(&historyPackage, "package", "", "Only list runs that included this package")
	historyCmd.Flags().DurationVar(&historyPurge, "purge", 0, "Delete runs older than this `AGE` (e.g. 720h) instead of listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	path := e.cfg.HistoryPath(e.root)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(e.stdout, "No runs recorded. Enable history.enabled or pass --record.")
		return nil
	}
	db, err := state.OpenHistory(path)
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case historyPurge > 0:
		n, err := db.PurgeRuns(historyPurge)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "Deleted %d run(s)\n", n)
		return nil
	case len(args) == 1:
		run, err := db.GetRun(args[0])
		if err != nil {
			if errors.Is(err, state.ErrRunNotFound) {
				return usageErr(err)
			}
			return err
		}
		return printRun(e, run)
	}

	runs, err := db.ListRuns(state.RunFilter{
		Action:  historyAction,
		Package: historyPackage,
		Limit:   historyLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(e.stdout, "No matching runs.")
		return nil
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tACTION\tRESULT\tPASSED\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Action, verdict(r.OK), r.Passed, r.Failed+r.Errored+r.Skipped,
			humanize.Time(r.StartedAt), r.Duration.Round(100*time.Millisecond))
	}
	return tw.Flush()
}

func printRun(e *env, run *state.Run) error {
	fmt.Fprintf(e.stdout, "Run %s: %s %s, started %s (%s)\n",
		run.ID, run.Action, verdict(run.OK),
		run.StartedAt.Local().Format(time.DateTime), humanize.Time(run.StartedAt))
	if run.DiscoveryErrors > 0 {
		fmt.Fprintf(e.stdout, "%d discovery error(s)\n", run.DiscoveryErrors)
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tSTATUS\tEXIT\tDURATION\tERROR")
	for _, r := range run.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.Package, r.Status, r.ExitCode, r.Duration.Round(time.Millisecond), r.Error)
	}
	return tw.Flush()
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
