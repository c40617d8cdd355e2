package repo

import (
	"fmt"
	"path/filepath"
	"sync"
)

// EngineFactory opens the engine for a working copy.
type EngineFactory func(path string) (Engine, error)

// Registry holds the open handles of a process, one per working copy, so
// every caller in the process contends for the same session lock.
type Registry struct {
	open EngineFactory
	opts []Option

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates a registry that opens engines with open.
func NewRegistry(open EngineFactory, opts ...Option) *Registry {
	return &Registry{
		open:    open,
		opts:    opts,
		handles: make(map[string]*Handle),
	}
}

// Open returns the handle for path, creating it on first use.
func (r *Registry) Open(path, remoteURL string, opts ...Option) (*Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[abs]; ok {
		return h, nil
	}

	engine, err := r.open(abs)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}

	all := append(append([]Option{}, r.opts...), opts...)
	h := NewHandle(abs, remoteURL, engine, all...)
	r.handles[abs] = h
	return h, nil
}

// Close forgets the handle for path. An active session keeps its handle.
func (r *Registry) Close(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, abs)
}

// Len returns the number of open handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
