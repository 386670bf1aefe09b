package oauthserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/oauth/grant"
	"github.com/Seann-Moser/oauthserver/storage/memory"
)

const callbackURL = "http://example.com/cb"

type testProvider struct {
	srv   *httptest.Server
	store *memory.Store
	user  *oauth.User
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateClient(ctx, &oauth.Client{
		ID:           "web",
		Secret:       "web-secret",
		RedirectURIs: []string{callbackURL},
		Grants:       []string{"authorization_code", "password", "refresh_token", "client_credentials"},
	}))
	user, err := store.CreateUser(ctx, "alice", "wonderland")
	require.NoError(t, err)

	s, err := New(Options{Model: store, Logger: quietLogger()})
	require.NoError(t, err)

	// the resource owner has already logged in to the provider
	login := &grant.AuthorizeOptions{
		AuthenticateHandler: func(context.Context, *oauth.Request, *oauth.Response) (*oauth.User, error) {
			return user, nil
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/authorize", Handler(s.Authorize(login)))
	mux.Handle("/token", Handler(s.Token(nil)))
	mux.Handle("/revoke", Handler(s.Revoke()))
	mux.Handle("/secret", s.Authenticate(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, ok := CredentialsFromContext(r.Context())
		if !ok {
			return
		}
		name := creds.Username
		if name == "" {
			name = creds.UserID
		}
		fmt.Fprintf(w, "hello %s via %s", name, creds.ClientID)
	})))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testProvider{srv: srv, store: store, user: user}
}

func (p *testProvider) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "web",
		ClientSecret: "web-secret",
		RedirectURL:  callbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.srv.URL + "/authorize",
			TokenURL:  p.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (p *testProvider) getSecret(t *testing.T, client *http.Client) (int, string) {
	t.Helper()
	resp, err := client.Get(p.srv.URL + "/secret")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestIntegration_PasswordGrant(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	conf := p.config()

	tok, err := conf.PasswordCredentialsToken(ctx, "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(grant.DefaultAccessTokenLifetime), tok.Expiry, time.Minute)

	status, body := p.getSecret(t, conf.Client(ctx, tok))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello alice via web", body)

	_, err = conf.PasswordCredentialsToken(ctx, "alice", "rabbit-hole")
	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re), "err = %v", err)
	assert.Equal(t, "invalid_grant", re.ErrorCode)
}

func TestIntegration_ClientCredentials(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	conf := &clientcredentials.Config{
		ClientID:     "web",
		ClientSecret: "web-secret",
		TokenURL:     p.srv.URL + "/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tok, err := conf.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok.RefreshToken)

	status, body := p.getSecret(t, conf.Client(ctx))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello service-web via web", body)

	conf.ClientSecret = "wrong"
	_, err = conf.Token(ctx)
	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re), "err = %v", err)
	assert.Equal(t, http.StatusUnauthorized, re.Response.StatusCode)
	assert.Equal(t, "invalid_client", re.ErrorCode)
}

func TestIntegration_AuthorizationCodeWithPKCE(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	conf := p.config()
	verifier, err := grant.GenerateCodeVerifier()
	require.NoError(t, err)

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noFollow.Get(conf.AuthCodeURL("xyz",
		oauth2.SetAuthURLParam("code_challenge", grant.GenerateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "example.com", loc.Host)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	_, err = conf.Exchange(ctx, code, oauth2.VerifierOption("not-the-verifier-"+verifier))
	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re), "err = %v", err)
	assert.Equal(t, "invalid_grant", re.ErrorCode)

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	status, body := p.getSecret(t, conf.Client(ctx, tok))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello alice via web", body)

	_, err = conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.True(t, errors.As(err, &re), "err = %v", err)
	assert.Equal(t, "invalid_grant", re.ErrorCode)
}

func TestIntegration_RefreshRotatesToken(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	conf := p.config()

	tok, err := conf.PasswordCredentialsToken(ctx, "alice", "wonderland")
	require.NoError(t, err)

	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Now().Add(-time.Minute)}
	fresh, err := conf.TokenSource(ctx, stale).Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, fresh.AccessToken)
	assert.NotEqual(t, tok.RefreshToken, fresh.RefreshToken)

	_, err = conf.TokenSource(ctx, stale).Token()
	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re), "err = %v", err)
	assert.Equal(t, "invalid_grant", re.ErrorCode)
}

func TestIntegration_RevokedTokenIsRejected(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	conf := p.config()

	tok, err := conf.PasswordCredentialsToken(ctx, "alice", "wonderland")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, p.srv.URL+"/revoke",
		strings.NewReader(url.Values{"token": {tok.AccessToken}, "token_type_hint": {"access_token"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("web", "web-secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := p.getSecret(t, conf.Client(ctx, tok))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "invalid_token")
}
