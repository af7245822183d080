package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/action"
)

var exportDist string

var exportCmd = &cobra.Command{
	Use:   "export [PACKAGE...]",
	Short: "Bundle packages for offline installation",
	Long: `Build the wheel of every selected package and of its private
dependencies, download the wheels of its third-party requirements and zip
them all into NAME-VERSION.zip.

The archives are collected into the same output directory as build.
Install one on a host without network access with:

  pip install --no-index --find-links DIR NAME`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDist, "dist", "", "Collect archives into `DIR`")
}

func runExport(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	dist := e.cfg.DistDir(e.root)
	if exportDist != "" {
		if dist, err = filepath.Abs(exportDist); err != nil {
			return fmt.Errorf("resolve %s: %w", exportDist, err)
		}
	}

	// Exports rebuild the wheels build collects.
	ctx := cmd.Context()
	unlock, err := e.lockBuild(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := e.run(ctx, verbRun{
		verb:      "export",
		packages:  args,
		opts:      action.Options{},
		outputDir: dist,
	})
	if err != nil {
		return err
	}
	return e.finish(s)
}
