package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/git"
	"github.com/quara-dev/repo/internal/release"
)

var releaseCmd = &cobra.Command{
	Use:   "release {prepare|publish|success} VERSION BRANCH",
	Short: "Run one step of the release flow",
	Long: `Run one step of the release flow, as called by the CI release job.

  prepare  check out BRANCH, bump every package to VERSION and commit
  publish  push BRANCH, then create and push releases/stable/VERSION or
           releases/rc/VERSION depending on BRANCH
  success  after a stable release, merge the stable branch back into the
           release candidate branch and push it

Branch names come from the release settings, or the STABLE_BRANCH_NAME and
RC_BRANCH_NAME environment variables.`,
	Args: usageArgs(cobra.ExactArgs(3)),
	RunE: runRelease,
}

func runRelease(cmd *cobra.Command, args []string) error {
	step, version, branch := args[0], args[1], args[2]
	if flagDryRun {
		return usageErrorf("release does not support --dry-run")
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	r := release.New(release.Options{
		Git:          git.NewRunner(e.root, e.runner),
		Bump:         e.releaseBump,
		StableBranch: e.cfg.Release.StableBranch,
		RCBranch:     e.cfg.Release.RCBranch,
		Remote:       e.cfg.Release.Remote,
		Logger:       e.log,
	})
	if err := r.Run(cmd.Context(), step, version, branch); err != nil {
		return fmt.Errorf("release %s: %w", step, err)
	}
	return nil
}

// releaseBump bumps the whole repository and fails unless every package
// passed.
func (e *env) releaseBump(ctx context.Context, version string) error {
	s, err := e.bump(ctx, version)
	if err != nil {
		return err
	}
	if err := e.publish(s); err != nil {
		return err
	}
	if !s.OK() {
		var names []string
		for _, r := range s.Failed() {
			names = append(names, r.Name)
		}
		return fmt.Errorf("bump to %s did not pass for %d package(s): %s",
			version, len(names)+len(s.DiscoveryErrors), strings.Join(names, ", "))
	}
	return nil
}
