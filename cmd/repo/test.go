package main

import (
	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/action"
)

var (
	testMarkers  []string
	testExprs    []string
	testCoverage bool
)

var testCmd = &cobra.Command{
	Use:   "test [PACKAGE...]",
	Short: "Run the test suite of packages",
	Long: `Run pytest in every selected package. Markers (-m) and keyword
expressions (-k) are handed to pytest unchanged as one argument each.
Repeated -m or -k values are combined with "and".

Examples:
  repo test
  repo test quara-core -m "not databases"
  repo test -k "redis and not slow" --cov=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{
			verb:     "test",
			packages: args,
			opts: action.Options{
				Markers:  testMarkers,
				Exprs:    testExprs,
				Coverage: testCoverage,
			},
		})
	},
}

func init() {
	testCmd.Flags().StringArrayVarP(&testMarkers, "markers", "m", nil, "Only run tests matching the marker expression; repeated values are combined with and")
	testCmd.Flags().StringArrayVarP(&testExprs, "expr", "k", nil, "Only run tests matching the keyword expression; repeated values are combined with and")
	testCmd.Flags().BoolVar(&testCoverage, "cov", true, "Measure coverage of the package sources")
}
