package main

import "github.com/spf13/cobra"

var lintCmd = &cobra.Command{
	Use:   "lint [PACKAGE...]",
	Short: "Lint package sources and tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{verb: "lint", packages: args})
	},
}
