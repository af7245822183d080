package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/action"
	"github.com/quara-dev/repo/internal/manifest"
	"github.com/quara-dev/repo/internal/report"
)

var bumpCmd = &cobra.Command{
	Use:   "bump VERSION",
	Short: "Set the version of every package",
	Long: `Set the version of every package, and of the root project when it has
a manifest, to VERSION. Dependencies on other packages of the repository
(named PREFIX-*) are pinned to ^VERSION, then every lock file is refreshed.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		s, err := e.bump(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return e.finish(s)
	},
}

// bump rewrites the root manifest then runs the bump verb on every
// package.
func (e *env) bump(ctx context.Context, version string) (*report.Summary, error) {
	act, err := e.newAction(verbRun{verb: "bump", opts: action.Options{Version: version}})
	if err != nil {
		return nil, err
	}
	if err := e.bumpRoot(version); err != nil {
		return nil, err
	}
	reg, err := e.discoverPackages(ctx)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, act, reg.Packages, reg.Errors, ""), nil
}

func (e *env) bumpRoot(version string) error {
	path := filepath.Join(e.root, e.cfg.Manifest)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if flagDryRun {
		fmt.Fprintf(e.stdout, ".$ (set-version %s)\n", version)
		return nil
	}
	if err := manifest.Bump(path, e.cfg.Prefix, version); err != nil {
		return fmt.Errorf("bump root manifest: %w", err)
	}
	e.log.Info("root manifest bumped", zap.String("version", version))
	return nil
}
