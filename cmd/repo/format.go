package main

import (
	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/action"
)

var formatCheck bool

var formatCmd = &cobra.Command{
	Use:   "format [PACKAGE...]",
	Short: "Format package sources and tests",
	Long: `Run black then isort on the sources and tests of every selected
package. With --check nothing is rewritten and a package that would change
fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{
			verb:     "format",
			packages: args,
			opts:     action.Options{Check: formatCheck},
		})
	},
}

func init() {
	formatCmd.Flags().BoolVar(&formatCheck, "check", false, "Only check formatting")
}
