package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// DefaultRemote is the remote name used when a handle does not name one.
const DefaultRemote = "origin"

// LockFileName is the per-repository lock file, created inside .git.
const LockFileName = "modelrepo.lock"

// ErrSessionBusy is returned when a handle already has an active session,
// in this process or another one.
var ErrSessionBusy = errors.New("sync session already in progress")

// Handle identifies a local working copy bound to one remote. It owns the
// per-repository session lock and the listener registry.
type Handle struct {
	Path      string
	RemoteURL string
	Remote    string

	engine   Engine
	notifier *Notifier
	lockPath string

	mu    sync.Mutex
	owner string
	flock *flock.Flock
}

// Option configures a Handle.
type Option func(*Handle)

// WithRemote sets the remote name (default "origin").
func WithRemote(name string) Option {
	return func(h *Handle) {
		if name != "" {
			h.Remote = name
		}
	}
}

// WithLockFile overrides the cross-process lock file. An empty path disables
// the cross-process lock and keeps only the in-process one.
func WithLockFile(path string) Option {
	return func(h *Handle) { h.lockPath = path }
}

// NewHandle creates a handle for the working copy at path.
func NewHandle(path, remoteURL string, engine Engine, opts ...Option) *Handle {
	h := &Handle{
		Path:      path,
		RemoteURL: remoteURL,
		Remote:    DefaultRemote,
		engine:    engine,
		notifier:  NewNotifier(),
		lockPath:  filepath.Join(path, ".git", LockFileName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Engine returns the engine operating on this working copy.
func (h *Handle) Engine() Engine { return h.engine }

// Notifier returns the handle's listener registry.
func (h *Handle) Notifier() *Notifier { return h.notifier }

// LockOwner returns the ID of the session holding the lock, or "".
func (h *Handle) LockOwner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

// Acquire takes the session lock for owner. It never blocks: a handle that is
// already locked returns ErrSessionBusy immediately.
func (h *Handle) Acquire(owner string) (*Guard, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.owner != "" {
		return nil, fmt.Errorf("%s: %w (held by %s)", h.Path, ErrSessionBusy, h.owner)
	}

	if h.lockPath != "" {
		if err := os.MkdirAll(filepath.Dir(h.lockPath), 0o755); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
		fl := flock.New(h.lockPath)
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock repository: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%s: %w (locked by another process)", h.Path, ErrSessionBusy)
		}
		h.flock = fl
	}

	h.owner = owner
	return &Guard{handle: h, owner: owner}, nil
}

func (h *Handle) release(owner string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.owner != owner {
		return nil
	}
	h.owner = ""

	if h.flock == nil {
		return nil
	}
	fl := h.flock
	h.flock = nil
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("unlock repository: %w", err)
	}
	return nil
}

// Guard is the held session lock. Release is safe to call more than once.
type Guard struct {
	handle *Handle
	owner  string
	once   sync.Once
	err    error
}

// Owner returns the session ID holding the guard.
func (g *Guard) Owner() string { return g.owner }

// Release gives the lock back.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.handle.release(g.owner)
	})
	return g.err
}
