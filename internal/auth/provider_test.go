package auth

import (
	"context"
	"errors"
	"testing"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/modelrepo/internal/repo"
)

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()

	c, err := NewStaticProvider("alice", "s3cret").Credentials(ctx, "https://example.com/m.git")
	require.NoError(t, err)
	assert.Equal(t, repo.Credentials{Username: "alice", Secret: "s3cret"}, c)

	_, err = NewStaticProvider("", "").Credentials(ctx, "https://example.com/m.git")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestChainProvider(t *testing.T) {
	ctx := context.Background()
	asked := 0
	prompt := NewPromptProvider(func(context.Context, string) (string, string, error) {
		asked++
		return "bob", "pw", nil
	})

	chain := NewChainProvider(NewStaticProvider("", ""), prompt)
	c, err := chain.Credentials(ctx, "https://example.com/m.git")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Username)

	_, err = chain.Credentials(ctx, "https://example.com/m.git")
	require.NoError(t, err)
	assert.Equal(t, 1, asked, "prompt answers are cached per remote")

	prompt.Forget("https://example.com/m.git")
	_, err = chain.Credentials(ctx, "https://example.com/m.git")
	require.NoError(t, err)
	assert.Equal(t, 2, asked)
}

func TestChainProvider_StopsOnError(t *testing.T) {
	boom := errors.New("prompt closed")
	chain := NewChainProvider(
		NewPromptProvider(func(context.Context, string) (string, string, error) { return "", "", boom }),
		NewStaticProvider("never", "used"),
	)
	_, err := chain.Credentials(context.Background(), "https://example.com/m.git")
	assert.ErrorIs(t, err, boom)

	_, err = NewChainProvider().Credentials(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestNeedsCredentials(t *testing.T) {
	assert.True(t, NeedsCredentials("https://github.com/org/model.git"))
	assert.True(t, NeedsCredentials("http://git.local/model.git"))
	assert.False(t, NeedsCredentials("git@github.com:org/model.git"), "ssh uses the agent or key files")
	assert.False(t, NeedsCredentials("ssh://git@example.com/model.git"))
	assert.False(t, NeedsCredentials("/srv/git/model.git"))
	assert.False(t, NeedsCredentials("file:///srv/git/model.git"))
}

func TestMethod(t *testing.T) {
	m, err := Method("https://github.com/org/model.git", repo.Credentials{Secret: "tok"})
	require.NoError(t, err)
	basic, ok := m.(*githttp.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "token", basic.Username)
	assert.Equal(t, "tok", basic.Password)

	m, err = Method("ssh://git@example.com/model.git", repo.Credentials{Secret: "pw"})
	require.NoError(t, err)
	pw, ok := m.(*gitssh.Password)
	require.True(t, ok)
	assert.Equal(t, "git", pw.User)

	m, err = Method("https://github.com/org/model.git", repo.Credentials{})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = Method("/srv/git/model.git", repo.Credentials{Username: "a", Secret: "b"})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestProxy(t *testing.T) {
	ctx := context.Background()
	sp := &StaticProxy{Config: repo.ProxyConfig{URL: "http://proxy.local:3128", Username: "u"}}

	pc, err := sp.Proxy(ctx, "https://github.com/org/model.git")
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "http://proxy.local:3128", pc.URL)

	pc, err = sp.Proxy(ctx, "/srv/git/model.git")
	require.NoError(t, err)
	assert.Nil(t, pc, "local remotes never use a proxy")

	pc, err = sp.Proxy(ctx, "ssh://git@example.com/model.git")
	require.NoError(t, err)
	assert.NotNil(t, pc, "ssh remotes still go through the proxy")

	t.Setenv("HTTPS_PROXY", "http://user:pw@envproxy:8080")
	t.Setenv("NO_PROXY", "")
	pc, err = FirstProxy{&StaticProxy{}, EnvProxy{}}.Proxy(ctx, "https://github.com/org/model.git")
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "http://envproxy:8080", pc.URL)
	assert.Equal(t, "user", pc.Username)
	assert.Equal(t, "pw", pc.Password)

	opts := ProxyOptions(pc)
	assert.Equal(t, "http://envproxy:8080", opts.URL)
	assert.Empty(t, ProxyOptions(nil).URL)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://***@example.com/m.git", Redact("https://alice:pw@example.com/m.git"))
	assert.Equal(t, "https://example.com/m.git", Redact("https://example.com/m.git"))
}
