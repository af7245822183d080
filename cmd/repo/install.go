package main

import (
	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/action"
)

var installExtras []string

var installCmd = &cobra.Command{
	Use:   "install [PACKAGE...]",
	Short: "Install packages and their private dependencies",
	Long: `Install every selected package with poetry. Packages that a selected
package depends on by path are installed too, dependencies first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{
			verb:     "install",
			packages: args,
			opts:     action.Options{Extras: installExtras},
		})
	},
}

func init() {
	installCmd.Flags().StringArrayVarP(&installExtras, "extras", "E", nil, "Extra to install (repeatable)")
}
