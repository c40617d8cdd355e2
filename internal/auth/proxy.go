package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"golang.org/x/net/http/httpproxy"

	"github.com/joescharf/modelrepo/internal/repo"
)

// ProxyResolver supplies the proxy for a remote, or nil for a direct
// connection.
type ProxyResolver interface {
	Proxy(ctx context.Context, remoteURL string) (*repo.ProxyConfig, error)
}

// StaticProxy returns one configured proxy for every network remote.
type StaticProxy struct {
	Config repo.ProxyConfig
}

func (s *StaticProxy) Proxy(_ context.Context, remoteURL string) (*repo.ProxyConfig, error) {
	if s.Config.URL == "" || !isNetworkRemote(remoteURL) {
		return nil, nil
	}
	if _, err := url.Parse(s.Config.URL); err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", s.Config.URL, err)
	}
	c := s.Config
	return &c, nil
}

// EnvProxy follows HTTP_PROXY, HTTPS_PROXY and NO_PROXY, read on every call.
type EnvProxy struct{}

func (EnvProxy) Proxy(_ context.Context, remoteURL string) (*repo.ProxyConfig, error) {
	if !isNetworkRemote(remoteURL) {
		return nil, nil
	}
	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote %s: %w", remoteURL, err)
	}
	if ep.Protocol != "http" && ep.Protocol != "https" {
		return nil, nil
	}

	proxyURL, err := httpproxy.FromEnvironment().ProxyFunc()(&url.URL{Scheme: ep.Protocol, Host: ep.Host})
	if err != nil {
		return nil, fmt.Errorf("resolve proxy from environment: %w", err)
	}
	if proxyURL == nil {
		return nil, nil
	}

	pc := &repo.ProxyConfig{URL: proxyURL.Scheme + "://" + proxyURL.Host}
	if proxyURL.User != nil {
		pc.Username = proxyURL.User.Username()
		pc.Password, _ = proxyURL.User.Password()
	}
	return pc, nil
}

// FirstProxy returns the first non-nil answer of its resolvers.
type FirstProxy []ProxyResolver

func (f FirstProxy) Proxy(ctx context.Context, remoteURL string) (*repo.ProxyConfig, error) {
	for _, r := range f {
		pc, err := r.Proxy(ctx, remoteURL)
		if err != nil {
			return nil, err
		}
		if pc != nil {
			return pc, nil
		}
	}
	return nil, nil
}

// ProxyOptions converts a proxy config to go-git transport options.
func ProxyOptions(pc *repo.ProxyConfig) transport.ProxyOptions {
	if pc == nil {
		return transport.ProxyOptions{}
	}
	return transport.ProxyOptions{URL: pc.URL, Username: pc.Username, Password: pc.Password}
}

func isNetworkRemote(remoteURL string) bool {
	switch protocol(remoteURL) {
	case "http", "https", "ssh":
		return true
	default:
		return false
	}
}
