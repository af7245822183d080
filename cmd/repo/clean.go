package main

import "github.com/spf13/cobra"

// cleanCmd removes package build output. The collected distributions in
// the repository dist directory are left alone.
var cleanCmd = &cobra.Command{
	Use:   "clean [PACKAGE...]",
	Short: "Remove the dist directory of packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{verb: "clean", packages: args})
	},
}
