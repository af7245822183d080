package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/action"
)

var (
	buildFormat string
	buildDist   string
)

// buildLockName is the lock file taken by a build, under the .repo
// directory of the repository.
const buildLockName = "build.lock"

var buildCmd = &cobra.Command{
	Use:   "build [PACKAGE...]",
	Short: "Build package distributions",
	Long: `Build every selected package with poetry and collect the wheels and
sdists into one output directory (dist/ at the repository root unless
--dist or the dist setting says otherwise).

Two packages producing a file of the same name fail the second one.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildFormat, "format", "f", "", "Only build this format: wheel or sdist")
	buildCmd.Flags().StringVar(&buildDist, "dist", "", "Collect distributions into `DIR`")
}

func runBuild(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	dist := e.cfg.DistDir(e.root)
	if buildDist != "" {
		if dist, err = filepath.Abs(buildDist); err != nil {
			return fmt.Errorf("resolve %s: %w", buildDist, err)
		}
	}

	ctx := cmd.Context()
	unlock, err := e.lockBuild(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := e.run(ctx, verbRun{
		verb:      "build",
		packages:  args,
		opts:      action.Options{Format: buildFormat},
		outputDir: dist,
	})
	if err != nil {
		return err
	}
	return e.finish(s)
}

// lockBuild keeps two builds of the same repository from collecting into
// the output directory at the same time.
func (e *env) lockBuild(ctx context.Context) (func(), error) {
	dir := filepath.Join(e.root, ".repo")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, buildLockName))

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock build: %w", err)
	}
	if !ok {
		e.log.Warn("another build is running, waiting", zap.String("lock", lock.Path()))
		if ok, err = lock.TryLockContext(ctx, 200*time.Millisecond); err != nil {
			return nil, fmt.Errorf("lock build: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("lock build: %w", ctx.Err())
		}
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			e.log.Warn("cannot release build lock", zap.Error(err))
		}
	}, nil
}
