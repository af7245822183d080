package main

import "github.com/spf13/cobra"

var typecheckCmd = &cobra.Command{
	Use:   "typecheck [PACKAGE...]",
	Short: "Typecheck package sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, verbRun{verb: "typecheck", packages: args})
	},
}
