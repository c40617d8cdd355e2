// Package auth supplies credentials and proxy settings for remotes and turns
// them into go-git transport options.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/joescharf/modelrepo/internal/repo"
)

// ErrNoCredentials is returned by a provider that has nothing for a remote.
var ErrNoCredentials = errors.New("no credentials available")

// CredentialProvider supplies credentials for a remote URL.
type CredentialProvider interface {
	Credentials(ctx context.Context, remoteURL string) (repo.Credentials, error)
}

// StaticProvider returns fixed credentials, typically read from configuration.
type StaticProvider struct {
	Username string
	Secret   string
}

// NewStaticProvider creates a provider for one username/secret pair.
// For token-based hosts pass the token as secret with an empty username.
func NewStaticProvider(username, secret string) *StaticProvider {
	return &StaticProvider{Username: username, Secret: secret}
}

func (p *StaticProvider) Credentials(_ context.Context, _ string) (repo.Credentials, error) {
	if p.Username == "" && p.Secret == "" {
		return repo.Credentials{}, ErrNoCredentials
	}
	return repo.Credentials{Username: p.Username, Secret: p.Secret}, nil
}

// ChainProvider tries providers in order and returns the first credentials
// found. Providers answering ErrNoCredentials are skipped; any other error
// stops the chain.
type ChainProvider struct {
	Providers []CredentialProvider
}

// NewChainProvider creates a chain over providers.
func NewChainProvider(providers ...CredentialProvider) *ChainProvider {
	return &ChainProvider{Providers: providers}
}

func (c *ChainProvider) Credentials(ctx context.Context, remoteURL string) (repo.Credentials, error) {
	for _, p := range c.Providers {
		creds, err := p.Credentials(ctx, remoteURL)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		if err != nil {
			return repo.Credentials{}, err
		}
		return creds, nil
	}
	return repo.Credentials{}, ErrNoCredentials
}

// NeedsCredentials reports whether remoteURL cannot be reached without a
// username/password. Only HTTP(S) qualifies: ssh falls back to the agent and
// key files when no credentials are given, local paths need none.
func NeedsCredentials(remoteURL string) bool {
	switch protocol(remoteURL) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func protocol(remoteURL string) string {
	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return ""
	}
	return ep.Protocol
}

// Method converts credentials to the go-git auth method for remoteURL.
// It returns nil when there is nothing to authenticate with.
//
//nolint:ireturn // go-git takes transport.AuthMethod
func Method(remoteURL string, creds repo.Credentials) (transport.AuthMethod, error) {
	if creds.IsZero() {
		return nil, nil
	}

	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote %s: %w", remoteURL, err)
	}

	switch ep.Protocol {
	case "http", "https":
		username, password := creds.Username, creds.Secret
		if username == "" {
			// Token hosts accept any non-empty username.
			username = "token"
		}
		return &githttp.BasicAuth{Username: username, Password: password}, nil
	case "ssh":
		user := creds.Username
		if user == "" {
			user = ep.User
		}
		return &gitssh.Password{User: user, Password: creds.Secret}, nil
	default:
		return nil, nil
	}
}

// Redact strips any userinfo from a remote URL for display.
func Redact(remoteURL string) string {
	u, err := url.Parse(remoteURL)
	if err != nil || u.User == nil {
		return remoteURL
	}
	u.User = nil
	return strings.Replace(u.String(), "//", "//***@", 1)
}
