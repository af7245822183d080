package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/action"
	"github.com/quara-dev/repo/internal/watch"
	"github.com/quara-dev/repo/pkg/models"
)

var (
	watchDebounce time.Duration
	watchMarkers  []string
	watchExprs    []string
)

var watchCmd = &cobra.Command{
	Use:   "watch VERB [PACKAGE...]",
	Short: "Re-run a verb on packages whose files change",
	Long: `Watch the directories of the selected packages and run VERB on every
package that changed once no change has been seen for the debounce window.
Hidden files, caches and build output are ignored. Ctrl-C stops watching.

Examples:
  repo watch test
  repo watch lint quara-core quara-redis`,
	Args:              usageArgs(cobra.MinimumNArgs(1)),
	ValidArgsFunction: completeVerb,
	RunE:              runWatch,
}

func completeVerb(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return action.Default().Verbs(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Quiet period before a run (default from the watch.debounce setting)")
	watchCmd.Flags().StringArrayVarP(&watchMarkers, "markers", "m", nil, "Marker expression handed to the test verb; repeated values are combined with and")
	watchCmd.Flags().StringArrayVarP(&watchExprs, "expr", "k", nil, "Keyword expression handed to the test verb; repeated values are combined with and")
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	r := verbRun{verb: args[0], packages: args[1:]}
	r.opts.Markers = watchMarkers
	r.opts.Exprs = watchExprs
	if r.verb == "build" {
		r.outputDir = e.cfg.DistDir(e.root)
	}
	act, err := e.newAction(r)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reg, err := e.discoverPackages(ctx)
	if err != nil {
		return err
	}
	pkgs, err := reg.Select(r.packages)
	if err != nil {
		return err
	}

	debounce := e.cfg.Watch.Debounce
	if watchDebounce > 0 {
		debounce = watchDebounce
	}
	w, err := watch.New(watch.Options{
		Root:     e.root,
		Packages: pkgs,
		Debounce: debounce,
		Logger:   e.log,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stderr, "Watching %d package(s) for %s, press Ctrl-C to stop\n", len(pkgs), act.Name())
	return w.Run(ctx, func(ctx context.Context, changed []*models.Package) error {
		s := e.execute(ctx, act, changed, nil, r.outputDir)
		return e.publish(s)
	})
}
