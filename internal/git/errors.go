package git

import (
	"errors"
	"fmt"
)

// Sentinel errors; check with errors.Is.
var (
	// ErrRemoteNotFound is returned when the named remote is not configured.
	ErrRemoteNotFound = errors.New("remote not found")

	// ErrDetachedHead is returned when HEAD does not point at a branch.
	ErrDetachedHead = errors.New("HEAD is detached")

	// ErrDirtyWorktree is returned when a merge is attempted over uncommitted changes.
	ErrDirtyWorktree = errors.New("working copy has uncommitted changes")

	// ErrMergeInProgress is returned when a merge starts before the previous
	// one was committed or aborted.
	ErrMergeInProgress = errors.New("merge already in progress")

	// ErrNoMerge is returned by merge-resolution calls when no merge is pending.
	ErrNoMerge = errors.New("no merge in progress")

	// ErrNotConflicted is returned when resolving a path that is not in conflict.
	ErrNotConflicted = errors.New("path is not in conflict")

	// ErrBranchMismatch is returned when merging into a branch other than HEAD.
	ErrBranchMismatch = errors.New("branch is not checked out")
)

// wrapError wraps err with msg, keeping errors.Is on the cause.
func wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
