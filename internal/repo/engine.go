package repo

import "context"

// Credentials authenticate against a remote.
type Credentials struct {
	Username string
	Secret   string
}

// IsZero reports whether no credentials were supplied.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Secret == ""
}

// ProxyConfig describes the transport proxy for a remote.
type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

// Ref is a fetched remote reference.
type Ref struct {
	Name string
	Hash string
}

// IsZero reports whether the remote has no commits for the ref.
func (r Ref) IsZero() bool {
	return r.Hash == ""
}

// MergeKind classifies the result of a merge attempt.
type MergeKind string

const (
	MergeUpToDate    MergeKind = "up_to_date"
	MergeFastForward MergeKind = "fast_forward"
	MergeClean       MergeKind = "clean"
	MergeConflicts   MergeKind = "conflicts"
)

// ConflictKind distinguishes conflicts that can be resolved by overwriting
// from those where one side deleted the path.
type ConflictKind string

const (
	ConflictContent      ConflictKind = "content"
	ConflictDeleteModify ConflictKind = "delete_modify"
)

// Conflict is one conflicting path reported by a merge.
type Conflict struct {
	Path string
	Kind ConflictKind
}

// MergeOutcome is what MergeInto reports. Local and Remote are the commits
// that become the parents of the merge commit.
type MergeOutcome struct {
	Kind      MergeKind
	Local     string
	Remote    string
	Conflicts []Conflict
}

// ConflictPaths returns the conflicting paths in report order.
func (m MergeOutcome) ConflictPaths() []string {
	paths := make([]string, 0, len(m.Conflicts))
	for _, c := range m.Conflicts {
		paths = append(paths, c.Path)
	}
	return paths
}

// PushOutcome is what Push reports when the transport succeeded.
type PushOutcome struct {
	Accepted bool
	Reason   string
}

// Engine is the transactional version-control engine beneath a working copy.
// Implementations must leave the local ref set unchanged when Fetch returns
// an error (including context cancellation).
type Engine interface {
	CurrentBranch(ctx context.Context) (string, error)
	Head(ctx context.Context) (string, error)
	HasLocalChanges(ctx context.Context) (bool, error)
	ChangedPaths(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string) (string, error)
	Fetch(ctx context.Context, remote string, creds Credentials, proxy *ProxyConfig) (Ref, error)
	MergeInto(ctx context.Context, localBranch string, fetched Ref) (MergeOutcome, error)
	CheckoutTheirs(ctx context.Context, path string) error
	StageResolved(ctx context.Context, path string) error
	CommitMerge(ctx context.Context, parents []string, message string) (string, error)
	AbortMerge(ctx context.Context) error
	Push(ctx context.Context, remote string, creds Credentials, proxy *ProxyConfig) (PushOutcome, error)
}
