// Package git runs the git operations of a release.
package git

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(ctx context.Context, name string) error
	// CreateAndCheckoutBranch creates and switches to a new branch (git checkout -b).
	CreateAndCheckoutBranch(ctx context.Context, name string) error
	// BranchExists returns true if the local branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Status returns the output of git status --porcelain.
	Status(ctx context.Context) (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges(ctx context.Context) (bool, error)
	// Add stages the specified paths for commit.
	Add(ctx context.Context, paths ...string) error
	// Commit creates a new commit with the given message. noVerify skips
	// the pre-commit and commit-msg hooks.
	Commit(ctx context.Context, message string, noVerify bool) error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
	MergeNoFFMessage(ctx context.Context, branch, message string) error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// Push pushes refs to remote. With no refs the current branch is pushed.
	Push(ctx context.Context, remote string, refs ...string) error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	CommitOperations
	MergeOperations
	RemoteOperations
}
