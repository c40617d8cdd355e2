// Package git implements the repository engine over go-git: local commits,
// fetch and push with credentials and proxy, and a path-level three-way merge
// that reports conflicting paths instead of writing conflict markers.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/joescharf/modelrepo/internal/repo"
)

// Default commit identity when none is configured.
const (
	DefaultAuthorName  = "modelrepo"
	DefaultAuthorEmail = "modelrepo@localhost"
)

// Options configures an opened repository.
type Options struct {
	AuthorName  string
	AuthorEmail string
	Logger      *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.AuthorName == "" {
		o.AuthorName = DefaultAuthorName
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = DefaultAuthorEmail
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Repo is a non-bare working copy.
type Repo struct {
	path     string
	repo     *git.Repository
	worktree *git.Worktree
	opts     Options
	log      *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	pending *pendingMerge
}

var _ repo.Engine = (*Repo)(nil)

// Open opens the working copy at path.
func Open(path string, opts Options) (*Repo, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, wrapError(err, "open repository")
	}
	return newRepo(path, r, opts)
}

// Init creates a new working copy at path.
func Init(path string, opts Options) (*Repo, error) {
	r, err := git.PlainInit(path, false)
	if err != nil {
		return nil, wrapError(err, "init repository")
	}
	return newRepo(path, r, opts)
}

func newRepo(path string, r *git.Repository, opts Options) (*Repo, error) {
	wt, err := r.Worktree()
	if err != nil {
		return nil, wrapError(err, "open worktree")
	}
	opts.applyDefaults()
	return &Repo{
		path:     path,
		repo:     r,
		worktree: wt,
		opts:     opts,
		log:      opts.Logger.With("repo", path),
		now:      time.Now,
	}, nil
}

// Path returns the working copy root.
func (r *Repo) Path() string { return r.path }

func (r *Repo) signature() *object.Signature {
	return &object.Signature{
		Name:  r.opts.AuthorName,
		Email: r.opts.AuthorEmail,
		When:  r.now(),
	}
}

// CurrentBranch returns the short name of the checked-out branch, including
// an unborn branch in a repository without commits.
func (r *Repo) CurrentBranch(_ context.Context) (string, error) {
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", wrapError(err, "read HEAD")
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short(), nil
	}
	return "", ErrDetachedHead
}

// Head returns the commit HEAD points at, or "" before the first commit.
func (r *Repo) Head(_ context.Context) (string, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", wrapError(err, "resolve HEAD")
	}
	return ref.Hash().String(), nil
}

// HasLocalChanges reports modified, staged, deleted or untracked files.
func (r *Repo) HasLocalChanges(ctx context.Context) (bool, error) {
	paths, err := r.ChangedPaths(ctx)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// ChangedPaths lists the paths with local changes, sorted.
func (r *Repo) ChangedPaths(_ context.Context) ([]string, error) {
	st, err := r.worktree.Status()
	if err != nil {
		return nil, wrapError(err, "worktree status")
	}
	var paths []string
	for p, fs := range st {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Commit stages every local change, including deletions and new files, and
// commits it.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", errors.New("commit message is required")
	}
	if err := r.worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", wrapError(err, "stage changes")
	}
	hash, err := r.worktree.Commit(message, &git.CommitOptions{
		All:    true,
		Author: r.signature(),
	})
	if err != nil {
		return "", wrapError(err, "commit")
	}
	r.log.DebugContext(ctx, "committed local changes", "commit", hash.String())
	return hash.String(), nil
}

// Info is a status snapshot for display.
type Info struct {
	Branch            string
	Head              string
	Dirty             bool
	LastCommitMessage string
	LastCommitDate    time.Time
	RemoteURL         string
}

// Info gathers branch, HEAD and last-commit details. Missing parts (no
// commits, no remote) are left empty.
func (r *Repo) Info(ctx context.Context, remote string) (*Info, error) {
	info := &Info{}

	branch, err := r.CurrentBranch(ctx)
	if err != nil && !errors.Is(err, ErrDetachedHead) {
		return nil, err
	}
	info.Branch = branch

	if info.Dirty, err = r.HasLocalChanges(ctx); err != nil {
		return nil, err
	}

	head, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	info.Head = head
	if head != "" {
		c, err := r.repo.CommitObject(plumbing.NewHash(head))
		if err != nil {
			return nil, wrapError(err, "read HEAD commit")
		}
		info.LastCommitMessage = firstLine(c.Message)
		info.LastCommitDate = c.Author.When
	}

	info.RemoteURL, _ = r.RemoteURL(remote)
	return info, nil
}

// RemoteURL returns the first URL of the named remote.
func (r *Repo) RemoteURL(remote string) (string, error) {
	if remote == "" {
		remote = repo.DefaultRemote
	}
	rem, err := r.repo.Remote(remote)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return "", fmt.Errorf("%s: %w", remote, ErrRemoteNotFound)
	}
	if err != nil {
		return "", wrapError(err, "read remote")
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%s has no url: %w", remote, ErrRemoteNotFound)
	}
	return urls[0], nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
