package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/joescharf/modelrepo/internal/repo"
)

// blobRef is one path's content in a tree. A zero Hash means absent.
type blobRef struct {
	Hash plumbing.Hash
	Mode filemode.FileMode
}

func (b blobRef) absent() bool { return b.Hash.IsZero() }

// pendingMerge is a merge started by MergeInto and not yet committed or
// aborted.
type pendingMerge struct {
	local     plumbing.Hash
	remote    plumbing.Hash
	conflicts map[string]blobRef // path -> remote side
}

// MergeInto merges fetched into localBranch, which must be checked out and
// clean. Changes made only on the remote side are written and staged.
// Paths changed differently on both sides keep the local content and are
// reported as conflicts; the merge stays pending until CommitMerge or
// AbortMerge.
func (r *Repo) MergeInto(ctx context.Context, localBranch string, fetched repo.Ref) (repo.MergeOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		return repo.MergeOutcome{}, ErrMergeInProgress
	}

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return repo.MergeOutcome{}, err
	}
	if branch != localBranch {
		return repo.MergeOutcome{}, fmt.Errorf("%s: %w (HEAD is %s)", localBranch, ErrBranchMismatch, branch)
	}

	head, err := r.Head(ctx)
	if err != nil {
		return repo.MergeOutcome{}, err
	}
	out := repo.MergeOutcome{Local: head, Remote: fetched.Hash}

	if fetched.IsZero() || head == fetched.Hash {
		out.Kind = repo.MergeUpToDate
		return out, nil
	}

	dirty, err := r.HasLocalChanges(ctx)
	if err != nil {
		return repo.MergeOutcome{}, err
	}
	if dirty {
		return repo.MergeOutcome{}, ErrDirtyWorktree
	}

	remoteHash := plumbing.NewHash(fetched.Hash)
	remoteCommit, err := r.repo.CommitObject(remoteHash)
	if err != nil {
		return repo.MergeOutcome{}, wrapError(err, "read remote commit")
	}

	if head == "" {
		if err := r.fastForward(localBranch, remoteHash); err != nil {
			return repo.MergeOutcome{}, err
		}
		out.Kind = repo.MergeFastForward
		return out, nil
	}

	localHash := plumbing.NewHash(head)
	localCommit, err := r.repo.CommitObject(localHash)
	if err != nil {
		return repo.MergeOutcome{}, wrapError(err, "read local commit")
	}

	if behind, err := remoteCommit.IsAncestor(localCommit); err != nil {
		return repo.MergeOutcome{}, wrapError(err, "compare history")
	} else if behind {
		out.Kind = repo.MergeUpToDate
		return out, nil
	}

	if ahead, err := localCommit.IsAncestor(remoteCommit); err != nil {
		return repo.MergeOutcome{}, wrapError(err, "compare history")
	} else if ahead {
		if err := r.fastForward(localBranch, remoteHash); err != nil {
			return repo.MergeOutcome{}, err
		}
		r.log.DebugContext(ctx, "fast-forwarded", "to", fetched.Hash)
		out.Kind = repo.MergeFastForward
		return out, nil
	}

	conflicts, err := r.threeWay(ctx, localCommit, remoteCommit)
	if err != nil {
		// Undo whatever was written before the failure.
		resetErr := r.worktree.Reset(&git.ResetOptions{Commit: localHash, Mode: git.HardReset})
		return repo.MergeOutcome{}, errors.Join(err, resetErr)
	}

	pm := &pendingMerge{local: localHash, remote: remoteHash, conflicts: make(map[string]blobRef)}
	for _, c := range conflicts {
		pm.conflicts[c.path] = c.theirs
		kind := repo.ConflictContent
		if c.deleteModify {
			kind = repo.ConflictDeleteModify
		}
		out.Conflicts = append(out.Conflicts, repo.Conflict{Path: c.path, Kind: kind})
	}
	r.pending = pm

	if len(out.Conflicts) == 0 {
		out.Kind = repo.MergeClean
	} else {
		out.Kind = repo.MergeConflicts
	}
	r.log.DebugContext(ctx, "merged", "kind", out.Kind, "conflicts", len(out.Conflicts))
	return out, nil
}

func (r *Repo) fastForward(branch string, to plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), to)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return wrapError(err, "advance branch")
	}
	if err := r.worktree.Reset(&git.ResetOptions{Commit: to, Mode: git.HardReset}); err != nil {
		return wrapError(err, "check out fast-forward")
	}
	return nil
}

type pathConflict struct {
	path         string
	theirs       blobRef
	deleteModify bool
}

// threeWay applies remote-only changes to the worktree and index and returns
// the paths changed on both sides with different results.
func (r *Repo) threeWay(ctx context.Context, local, remote *object.Commit) ([]pathConflict, error) {
	base := map[string]blobRef{}
	bases, err := local.MergeBase(remote)
	if err != nil {
		return nil, wrapError(err, "find merge base")
	}
	if len(bases) > 0 {
		if base, err = treeBlobs(bases[0]); err != nil {
			return nil, err
		}
	}
	ours, err := treeBlobs(local)
	if err != nil {
		return nil, err
	}
	theirs, err := treeBlobs(remote)
	if err != nil {
		return nil, err
	}

	var conflicts []pathConflict
	for _, p := range unionPaths(base, ours, theirs) {
		b, o, t := base[p], ours[p], theirs[p]
		if t == b || o == t {
			continue // remote did not touch it, or both sides agree
		}
		if o == b {
			if err := r.writeSide(ctx, p, t); err != nil {
				return nil, err
			}
			continue
		}
		conflicts = append(conflicts, pathConflict{
			path:         p,
			theirs:       t,
			deleteModify: o.absent() != t.absent(),
		})
	}
	return conflicts, nil
}

// writeSide makes the worktree and index hold side for path.
func (r *Repo) writeSide(_ context.Context, path string, side blobRef) error {
	if side.absent() {
		if _, err := r.worktree.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrapError(err, "remove "+path)
		}
		return nil
	}
	if err := r.writeBlob(path, side); err != nil {
		return err
	}
	if _, err := r.worktree.Add(path); err != nil {
		return wrapError(err, "stage "+path)
	}
	return nil
}

func (r *Repo) writeBlob(path string, side blobRef) error {
	blob, err := r.repo.BlobObject(side.Hash)
	if err != nil {
		return wrapError(err, "read blob for "+path)
	}
	rd, err := blob.Reader()
	if err != nil {
		return wrapError(err, "open blob for "+path)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return wrapError(err, "read blob for "+path)
	}

	perm := os.FileMode(0o644)
	if side.Mode == filemode.Executable {
		perm = 0o755
	}
	if err := util.WriteFile(r.worktree.Filesystem, path, data, perm); err != nil {
		return wrapError(err, "write "+path)
	}
	return nil
}

// CheckoutTheirs overwrites a conflicted path with the remote version.
func (r *Repo) CheckoutTheirs(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return ErrNoMerge
	}
	side, ok := r.pending.conflicts[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotConflicted)
	}
	if side.absent() {
		if err := r.worktree.Filesystem.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrapError(err, "remove "+path)
		}
		return nil
	}
	return r.writeBlob(path, side)
}

// StageResolved stages the working-copy content of a conflicted path, or its
// removal when the file is gone.
func (r *Repo) StageResolved(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return ErrNoMerge
	}
	if _, ok := r.pending.conflicts[path]; !ok {
		return fmt.Errorf("%s: %w", path, ErrNotConflicted)
	}

	if _, err := r.worktree.Filesystem.Lstat(path); errors.Is(err, os.ErrNotExist) {
		if _, err := r.worktree.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrapError(err, "stage removal of "+path)
		}
		return nil
	}
	if _, err := r.worktree.Add(path); err != nil {
		return wrapError(err, "stage "+path)
	}
	return nil
}

// CommitMerge records the staged merge result with the given parents and
// clears the pending merge.
func (r *Repo) CommitMerge(ctx context.Context, parents []string, message string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return "", ErrNoMerge
	}
	if len(parents) == 0 {
		return "", errors.New("merge commit needs parents")
	}
	hashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, plumbing.NewHash(p))
	}
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s", short(r.pending.remote), short(r.pending.local))
	}

	hash, err := r.worktree.Commit(message, &git.CommitOptions{
		Author:            r.signature(),
		Parents:           hashes,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", wrapError(err, "commit merge")
	}
	r.pending = nil
	r.log.DebugContext(ctx, "committed merge", "commit", hash.String(), "parents", len(hashes))
	return hash.String(), nil
}

// AbortMerge resets the worktree and index to the pre-merge local commit.
// It is a no-op without a pending merge.
func (r *Repo) AbortMerge(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return nil
	}
	if err := r.worktree.Reset(&git.ResetOptions{Commit: r.pending.local, Mode: git.HardReset}); err != nil {
		return wrapError(err, "abort merge")
	}
	r.log.DebugContext(ctx, "aborted merge", "reset_to", r.pending.local.String())
	r.pending = nil
	return nil
}

// MergePending reports whether a merge awaits CommitMerge or AbortMerge.
func (r *Repo) MergePending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// treeBlobs indexes every file of a commit's tree by path.
func treeBlobs(c *object.Commit) (map[string]blobRef, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, wrapError(err, "read tree")
	}
	out := make(map[string]blobRef)
	err = tree.Files().ForEach(func(f *object.File) error {
		out[f.Name] = blobRef{Hash: f.Hash, Mode: f.Mode}
		return nil
	})
	if err != nil {
		return nil, wrapError(err, "walk tree")
	}
	return out, nil
}

func unionPaths(sides ...map[string]blobRef) []string {
	seen := make(map[string]struct{})
	for _, s := range sides {
		for p := range s {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func short(h plumbing.Hash) string {
	s := h.String()
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
