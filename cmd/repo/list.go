package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/report"
	"github.com/quara-dev/repo/pkg/models"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list [PACKAGE...]",
	Short: "List the packages of the repository",
	Long: `List every discovered package with its version, kind and directory.
Directories whose manifest cannot be read are listed after them, and make
the command exit 1.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print packages as JSON")
}

type listOutput struct {
	Packages []*models.Package `json:"packages"`
	Errors   []listError       `json:"errors,omitempty"`
}

type listError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	reg, err := e.discoverPackages(cmd.Context())
	if err != nil {
		return err
	}
	pkgs, err := reg.Select(args)
	if err != nil {
		return err
	}

	if listJSON {
		out := listOutput{Packages: pkgs}
		if out.Packages == nil {
			out.Packages = []*models.Package{}
		}
		for _, de := range reg.Errors {
			out.Errors = append(out.Errors, listError{Path: de.RelPath, Error: de.Err.Error()})
		}
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode packages: %w", err)
		}
	} else {
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tVERSION\tKIND\tPATH")
		for _, p := range pkgs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Version, p.Kind, p.RelPath)
		}
		for _, de := range reg.Errors {
			fmt.Fprintf(tw, "!\t-\t-\t%s: %v\n", de.RelPath, de.Err)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(reg.Errors) > 0 {
		return &exitError{code: report.ExitFailure}
	}
	return nil
}
