package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/scaffold"
	"github.com/quara-dev/repo/pkg/models"
)

var newCmd = &cobra.Command{
	Use:   "new {library|plugin|application} NAME",
	Short: "Create a new package",
	Long: `Create a package under libraries/, plugins/ or applications/ with a
pyproject.toml, a tests directory and an empty source package. Version,
authors and the python constraint are taken from the root pyproject.toml
when there is one.

An existing directory is never touched.

Examples:
  repo new library quara-redis
  repo new app web-api`,
	Args: usageArgs(cobra.ExactArgs(2)),
	RunE: runNew,
}

func runNew(cmd *cobra.Command, args []string) error {
	kind, ok := models.ParseKind(args[0])
	if !ok {
		return fmt.Errorf("%w %q: expected library, plugin or application", scaffold.ErrInvalidKind, args[0])
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	pkg, err := scaffold.Create(scaffold.Options{
		Root:     e.root,
		Kind:     kind,
		Name:     args[1],
		Prefix:   e.cfg.Prefix,
		TestsDir: e.cfg.TestsDir,
		Logger:   e.log,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Created %s %s in %s\n", pkg.Kind, pkg.Name, pkg.RelPath)
	return nil
}
