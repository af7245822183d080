package main

import "github.com/spf13/cobra"

var updateCmd = &cobra.Command{
	Use:   "update [PACKAGE...]",
	Short: "Update the locked dependencies of packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{verb: "update", packages: args})
	},
}
