package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/joescharf/modelrepo/internal/repo"
)

// AskFunc asks the user for credentials for remoteURL.
type AskFunc func(ctx context.Context, remoteURL string) (username, secret string, err error)

// PromptProvider asks interactively and remembers the answer per remote for
// the life of the process.
type PromptProvider struct {
	ask AskFunc

	mu    sync.Mutex
	cache map[string]repo.Credentials
}

// NewPromptProvider creates a provider backed by ask.
func NewPromptProvider(ask AskFunc) *PromptProvider {
	return &PromptProvider{ask: ask, cache: make(map[string]repo.Credentials)}
}

func (p *PromptProvider) Credentials(ctx context.Context, remoteURL string) (repo.Credentials, error) {
	p.mu.Lock()
	if c, ok := p.cache[remoteURL]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	if p.ask == nil {
		return repo.Credentials{}, ErrNoCredentials
	}

	username, secret, err := p.ask(ctx, remoteURL)
	if err != nil {
		return repo.Credentials{}, err
	}
	if username == "" && secret == "" {
		return repo.Credentials{}, errors.New("credentials prompt returned nothing")
	}

	c := repo.Credentials{Username: username, Secret: secret}
	p.mu.Lock()
	p.cache[remoteURL] = c
	p.mu.Unlock()
	return c, nil
}

// Forget drops the cached answer for remoteURL, e.g. after the remote
// rejected it.
func (p *PromptProvider) Forget(remoteURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, remoteURL)
}
