// Package storagetest holds the behaviour every oauth.Storage backend must share.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Backend is a store under test.
type Backend interface {
	oauth.Storage
	oauth.Registrar
}

// Run exercises newStore against the storage contract. newStore must return
// an empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) Backend) {
	t.Helper()

	t.Run("GetClient", func(t *testing.T) { testGetClient(t, newStore(t)) })
	t.Run("GetUser", func(t *testing.T) { testGetUser(t, newStore(t)) })
	t.Run("GetUserFromClient", func(t *testing.T) { testGetUserFromClient(t, newStore(t)) })
	t.Run("SaveToken", func(t *testing.T) { testSaveToken(t, newStore(t)) })
	t.Run("ExpiredAccessTokenIsAbsent", func(t *testing.T) { testExpiredAccessToken(t, newStore(t)) })
	t.Run("DuplicateTokenIsRejected", func(t *testing.T) { testDuplicateToken(t, newStore(t)) })
	t.Run("RevokeToken", func(t *testing.T) { testRevokeToken(t, newStore(t)) })
	t.Run("AuthorizationCode", func(t *testing.T) { testAuthorizationCode(t, newStore(t)) })
	t.Run("ExpiredAuthorizationCodeIsAbsent", func(t *testing.T) { testExpiredAuthorizationCode(t, newStore(t)) })
	t.Run("ConcurrentCodeRevocation", func(t *testing.T) { testConcurrentCodeRevocation(t, newStore(t)) })
}

func seedClient(t *testing.T, s Backend) *oauth.Client {
	t.Helper()
	c := &oauth.Client{
		ID:           "client-1",
		Secret:       "s3cret",
		RedirectURIs: []string{"http://example.com/cb"},
		Grants:       []string{"password", "authorization_code", "refresh_token", "client_credentials"},
	}
	require.NoError(t, s.CreateClient(context.Background(), c))
	return c
}

func seedUser(t *testing.T, s Backend) *oauth.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	return u
}

func testGetClient(t *testing.T, s Backend) {
	ctx := context.Background()
	seedClient(t, s)

	c, err := s.GetClient(ctx, "client-1", "s3cret")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "client-1", c.ID)
	assert.Equal(t, []string{"http://example.com/cb"}, c.RedirectURIs)
	assert.Contains(t, c.Grants, "password")

	c, err = s.GetClient(ctx, "client-1", "")
	require.NoError(t, err)
	assert.NotNil(t, c, "an empty secret skips the secret check")

	c, err = s.GetClient(ctx, "client-1", "wrong")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = s.GetClient(ctx, "unknown", "")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func testGetUser(t *testing.T, s Backend) {
	ctx := context.Background()
	created := seedUser(t, s)

	u, err := s.GetUser(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, created.ID, u.ID)

	u, err = s.GetUser(ctx, "alice", "nope")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = s.GetUser(ctx, "bob", "wonderland")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func testGetUserFromClient(t *testing.T, s Backend) {
	c := seedClient(t, s)
	u, err := s.GetUserFromClient(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, oauth.ServiceUser(c).ID, u.ID)
}

func newToken(access, refresh string, expiresIn time.Duration) *oauth.Token {
	now := time.Now()
	return &oauth.Token{
		AccessToken:           access,
		AccessTokenExpiresAt:  now.Add(expiresIn),
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
		Scope:                 []string{"read", "write"},
	}
}

func testSaveToken(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)

	saved, err := s.SaveToken(ctx, newToken("access-1", "refresh-1", time.Hour), c, u)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "access-1", saved.AccessToken)
	require.NotNil(t, saved.Client)
	require.NotNil(t, saved.User)
	assert.Equal(t, c.ID, saved.Client.ID)
	assert.Equal(t, u.ID, saved.User.ID)

	at, err := s.GetAccessToken(ctx, "access-1")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, c.ID, at.ClientID)
	assert.Equal(t, u.ID, at.UserID)
	assert.Equal(t, []string{"read", "write"}, at.Scope)
	assert.WithinDuration(t, saved.AccessTokenExpiresAt, at.ExpiresAt, time.Second)

	rt, err := s.GetRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, c.ID, rt.ClientID)

	at, err = s.GetAccessToken(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, at)

	// client_credentials tokens have no refresh half
	_, err = s.SaveToken(ctx, newToken("access-2", "", time.Hour), c, oauth.ServiceUser(c))
	require.NoError(t, err)
	rt, err = s.GetRefreshToken(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, rt)
}

func testExpiredAccessToken(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)

	_, err := s.SaveToken(ctx, newToken("stale", "stale-refresh", -time.Minute), c, u)
	require.NoError(t, err)

	at, err := s.GetAccessToken(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, at)

	rt, err := s.GetRefreshToken(ctx, "stale-refresh")
	require.NoError(t, err)
	assert.NotNil(t, rt, "refresh half outlives the access half")
}

func testDuplicateToken(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)

	_, err := s.SaveToken(ctx, newToken("dup-access", "dup-refresh", time.Hour), c, u)
	require.NoError(t, err)

	_, err = s.SaveToken(ctx, newToken("dup-access", "other-refresh", time.Hour), c, u)
	require.ErrorIs(t, err, oauth.ErrDuplicateToken)
	rt, err := s.GetRefreshToken(ctx, "other-refresh")
	require.NoError(t, err)
	assert.Nil(t, rt, "nothing is stored when one half collides")

	_, err = s.SaveToken(ctx, newToken("fresh-access", "dup-refresh", time.Hour), c, u)
	require.ErrorIs(t, err, oauth.ErrDuplicateToken)
	at, err := s.GetAccessToken(ctx, "fresh-access")
	require.NoError(t, err)
	assert.Nil(t, at, "nothing is stored when one half collides")
}

func testRevokeToken(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)
	_, err := s.SaveToken(ctx, newToken("access-r", "refresh-r", time.Hour), c, u)
	require.NoError(t, err)

	ok, err := s.RevokeToken(ctx, "refresh-r")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RevokeToken(ctx, "refresh-r")
	require.NoError(t, err)
	assert.False(t, ok, "second revocation finds nothing")

	rt, err := s.GetRefreshToken(ctx, "refresh-r")
	require.NoError(t, err)
	assert.Nil(t, rt)

	at, err := s.GetAccessToken(ctx, "access-r")
	require.NoError(t, err)
	assert.NotNil(t, at, "revoking the refresh token leaves the access token")

	ok, err = s.RevokeToken(ctx, "access-r")
	require.NoError(t, err)
	assert.True(t, ok)
	at, err = s.GetAccessToken(ctx, "access-r")
	require.NoError(t, err)
	assert.Nil(t, at)
}

func newCode(value string, expiresIn time.Duration) *oauth.AuthorizationCode {
	return &oauth.AuthorizationCode{
		Code:                value,
		ExpiresAt:           time.Now().Add(expiresIn),
		RedirectURI:         "http://example.com/cb",
		Scope:               []string{"read"},
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
	}
}

func testAuthorizationCode(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)

	saved, err := s.SaveAuthorizationCode(ctx, newCode("code-1", 5*time.Minute), c, u)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "code-1", saved.Code)

	got, err := s.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ClientID)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "http://example.com/cb", got.RedirectURI)
	assert.Equal(t, "S256", got.CodeChallengeMethod)
	assert.Equal(t, []string{"read"}, got.Scope)

	ok, err := s.RevokeAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RevokeAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testExpiredAuthorizationCode(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)

	_, err := s.SaveAuthorizationCode(ctx, newCode("old-code", -time.Second), c, u)
	require.NoError(t, err)
	got, err := s.GetAuthorizationCode(ctx, "old-code")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testConcurrentCodeRevocation(t *testing.T, s Backend) {
	ctx := context.Background()
	c := seedClient(t, s)
	u := seedUser(t, s)
	_, err := s.SaveAuthorizationCode(ctx, newCode("race", 5*time.Minute), c, u)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RevokeAuthorizationCode(ctx, "race")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
