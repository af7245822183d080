// Package release runs the prepare, publish and success steps that a
// semantic-release pipeline calls with the computed version and branch.
package release

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/git"
)

var (
	// ErrUnknownStep is returned for a step other than prepare, publish or success.
	ErrUnknownStep = errors.New("unknown release step")
	// ErrInvalidVersion is returned when the version is not strict semver.
	ErrInvalidVersion = errors.New("invalid release version")
	// ErrNoRule is returned when a branch has no publish rule.
	ErrNoRule = errors.New("no release rule for branch")
	// ErrPrerelease is returned when a pre-release is published from the stable branch.
	ErrPrerelease = errors.New("pre-release version on the stable branch")
	// ErrBranchExists is returned when the release branch already exists.
	ErrBranchExists = errors.New("release branch already exists")
)

// Steps lists the release steps in pipeline order.
var Steps = []string{"prepare", "publish", "success"}

// Commit messages of the release flow. [skip ci] keeps the pipeline from
// triggering itself.
const (
	bumpMessage  = "chore(release): bumped to version %s [skip ci]"
	mergeMessage = "chore: merge from %s branch [skip ci]"
)

// BumpFunc rewrites every manifest of the repository to version.
type BumpFunc func(ctx context.Context, version string) error

// Options configure a Releaser.
type Options struct {
	Git          git.Runner
	Bump         BumpFunc
	StableBranch string
	RCBranch     string
	Remote       string
	Logger       *zap.Logger
}

// Releaser runs release steps.
type Releaser struct {
	git    git.Runner
	bump   BumpFunc
	stable string
	rc     string
	remote string
	log    *zap.Logger
}

// New creates a Releaser. Empty branch and remote names get the defaults
// stable, next and origin.
func New(opts Options) *Releaser {
	r := &Releaser{
		git:    opts.Git,
		bump:   opts.Bump,
		stable: opts.StableBranch,
		rc:     opts.RCBranch,
		remote: opts.Remote,
		log:    opts.Logger,
	}
	if r.stable == "" {
		r.stable = "stable"
	}
	if r.rc == "" {
		r.rc = "next"
	}
	if r.remote == "" {
		r.remote = "origin"
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Run dispatches one step by name.
func (r *Releaser) Run(ctx context.Context, step, version, branch string) error {
	switch step {
	case "prepare":
		return r.Prepare(ctx, version, branch)
	case "publish":
		return r.Publish(ctx, version, branch)
	case "success":
		return r.Success(ctx, version, branch)
	default:
		return fmt.Errorf("%w %q: expected one of %v", ErrUnknownStep, step, Steps)
	}
}

// ParseVersion validates a release version. Versions are strict semver
// without a leading v, as semantic-release computes them.
func ParseVersion(version string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidVersion, version, err)
	}
	return v, nil
}

// Branch returns the release branch created by Publish for branch.
func (r *Releaser) Branch(version, branch string) (string, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return "", err
	}
	switch branch {
	case r.stable:
		if v.Prerelease() != "" {
			return "", fmt.Errorf("%w: %s", ErrPrerelease, version)
		}
		return "releases/stable/" + version, nil
	case r.rc:
		return "releases/rc/" + version, nil
	default:
		return "", fmt.Errorf("%w %q: expected %s or %s", ErrNoRule, branch, r.stable, r.rc)
	}
}

// Prepare checks out branch, bumps every manifest to version and commits
// the result. A bump that changes nothing is not committed.
func (r *Releaser) Prepare(ctx context.Context, version, branch string) error {
	if _, err := ParseVersion(version); err != nil {
		return err
	}
	if r.bump == nil {
		return errors.New("prepare: no bump function configured")
	}
	log := r.log.With(zap.String("version", version), zap.String("branch", branch))

	if err := r.git.CheckoutBranch(ctx, branch); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	log.Info("bumping version")
	if err := r.bump(ctx, version); err != nil {
		return fmt.Errorf("prepare: bump: %w", err)
	}

	changed, err := r.git.HasChanges(ctx)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	if !changed {
		log.Warn("bump left the tree unchanged, nothing to commit")
		return nil
	}
	if err := r.git.Add(ctx, "."); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	if err := r.git.Commit(ctx, fmt.Sprintf(bumpMessage, version), true); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	log.Info("release prepared")
	return nil
}

// Publish pushes branch, then creates and pushes the release branch.
func (r *Releaser) Publish(ctx context.Context, version, branch string) error {
	releaseBranch, err := r.Branch(version, branch)
	if err != nil {
		return err
	}
	exists, err := r.git.BranchExists(ctx, releaseBranch)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrBranchExists, releaseBranch)
	}

	if err := r.git.Push(ctx, r.remote, branch); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := r.git.CreateAndCheckoutBranch(ctx, releaseBranch); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := r.git.Push(ctx, r.remote, releaseBranch); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	r.log.Info("release published", zap.String("version", version), zap.String("release_branch", releaseBranch))
	return nil
}

// Success merges a stable release back into the rc branch. It does
// nothing for other branches.
func (r *Releaser) Success(ctx context.Context, version, branch string) error {
	if _, err := ParseVersion(version); err != nil {
		return err
	}
	if branch != r.stable {
		r.log.Debug("nothing to merge back", zap.String("branch", branch))
		return nil
	}
	if err := r.git.CheckoutBranch(ctx, r.rc); err != nil {
		return fmt.Errorf("success: %w", err)
	}
	upstream := r.remote + "/" + branch
	if err := r.git.MergeNoFFMessage(ctx, upstream, fmt.Sprintf(mergeMessage, branch)); err != nil {
		return fmt.Errorf("success: %w", err)
	}
	if err := r.git.Push(ctx, r.remote, r.rc); err != nil {
		return fmt.Errorf("success: %w", err)
	}
	r.log.Info("merged release back", zap.String("from", upstream), zap.String("into", r.rc))
	return nil
}
