package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/serve"
)

// coverageReport is the directory pytest-cov writes its HTML report to,
// relative to the package.
const coverageReport = "htmlcov"

var coverageAddr string

var coverageCmd = &cobra.Command{
	Use:   "coverage [PACKAGE]",
	Short: "Serve coverage reports over HTTP",
	Long: `Serve the coverage.dir directory (the repository root by default) on
coverage.addr until interrupted. With a PACKAGE, serve the htmlcov
directory pytest-cov writes its HTML report to when the package's pytest
options include --cov-report=html.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runCoverage,
}

func init() {
	coverageCmd.Flags().StringVar(&coverageAddr, "addr", "", "Listen on `HOST:PORT` instead of coverage.addr")
}

func runCoverage(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	dir := e.cfg.Coverage.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.root, dir)
	}
	if len(args) == 1 {
		reg, err := e.discoverPackages(cmd.Context())
		if err != nil {
			return err
		}
		pkgs, err := reg.Select(args)
		if err != nil {
			return err
		}
		dir = filepath.Join(pkgs[0].Path, coverageReport)
	}
	addr := e.cfg.Coverage.Addr
	if coverageAddr != "" {
		addr = coverageAddr
	}

	s, err := serve.Listen(addr, dir, e.log)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Serving %s at %s (Ctrl-C to stop)\n", dir, s.URL())
	return s.Serve(cmd.Context())
}
