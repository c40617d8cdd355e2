package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/repo"
)

// Fetch fetches remote and returns the remote-tracking ref of the current
// branch. A remote without that branch (e.g. an empty remote) yields a zero
// Ref. go-git writes refs only after the pack is stored, so a cancelled or
// failed fetch leaves the local ref set as it was.
func (r *Repo) Fetch(ctx context.Context, remote string, creds repo.Credentials, proxy *repo.ProxyConfig) (repo.Ref, error) {
	if remote == "" {
		remote = repo.DefaultRemote
	}

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return repo.Ref{}, err
	}

	url, err := r.RemoteURL(remote)
	if err != nil {
		return repo.Ref{}, err
	}
	method, err := auth.Method(url, creds)
	if err != nil {
		return repo.Ref{}, err
	}

	r.log.DebugContext(ctx, "fetching", "remote", remote, "url", auth.Redact(url))
	err = r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName:   remote,
		Auth:         method,
		ProxyOptions: auth.ProxyOptions(proxy),
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return repo.Ref{Name: plumbing.NewRemoteReferenceName(remote, branch).String()}, nil
	default:
		return repo.Ref{}, wrapError(err, "fetch "+remote)
	}

	name := plumbing.NewRemoteReferenceName(remote, branch)
	ref, err := r.repo.Reference(name, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return repo.Ref{Name: name.String()}, nil
	}
	if err != nil {
		return repo.Ref{}, wrapError(err, "resolve "+name.String())
	}
	return repo.Ref{Name: name.String(), Hash: ref.Hash().String()}, nil
}

// Push pushes the current branch to the same branch on remote. A rejected
// non-fast-forward update is reported in the outcome, not as an error.
func (r *Repo) Push(ctx context.Context, remote string, creds repo.Credentials, proxy *repo.ProxyConfig) (repo.PushOutcome, error) {
	if remote == "" {
		remote = repo.DefaultRemote
	}

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return repo.PushOutcome{}, err
	}

	url, err := r.RemoteURL(remote)
	if err != nil {
		return repo.PushOutcome{}, err
	}
	method, err := auth.Method(url, creds)
	if err != nil {
		return repo.PushOutcome{}, err
	}

	ref := plumbing.NewBranchReferenceName(branch)
	spec := config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))

	r.log.DebugContext(ctx, "pushing", "remote", remote, "branch", branch)
	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName:   remote,
		RefSpecs:     []config.RefSpec{spec},
		Auth:         method,
		ProxyOptions: auth.ProxyOptions(proxy),
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return repo.PushOutcome{Accepted: true}, nil
	case errors.Is(err, git.ErrNonFastForwardUpdate), strings.Contains(err.Error(), "non-fast-forward"):
		return repo.PushOutcome{Accepted: false, Reason: "remote has changes that are not merged locally"}, nil
	default:
		return repo.PushOutcome{}, wrapError(err, "push "+remote)
	}
}

// Clone clones url into path and opens it.
func Clone(ctx context.Context, url, path string, creds repo.Credentials, proxy *repo.ProxyConfig, opts Options) (*Repo, error) {
	method, err := auth.Method(url, creds)
	if err != nil {
		return nil, err
	}
	r, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:          url,
		Auth:         method,
		ProxyOptions: auth.ProxyOptions(proxy),
	})
	if err != nil {
		return nil, wrapError(err, "clone "+auth.Redact(url))
	}
	return newRepo(path, r, opts)
}
