package grant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/storage/memory"
)

func sequentialTokens() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("token-%d", n), nil
	}
}

func passwordForm() []string {
	return []string{
		"grant_type", "password",
		"username", "alice",
		"password", "wonderland",
		"client_id", "web",
		"client_secret", "web-secret",
	}
}

func TestToken_Password(t *testing.T) {
	f := newFixture(t, Options{GenerateToken: sequentialTokens()})
	res := oauth.NewResponse()
	token, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", tokenForm(passwordForm()...)), res, nil)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token.AccessToken != "token-1" || token.RefreshToken != "token-2" {
		t.Errorf("token = %q / %q", token.AccessToken, token.RefreshToken)
	}
	if token.User == nil || token.User.ID != f.user.ID {
		t.Errorf("user = %+v", token.User)
	}

	body, ok := res.Body.(*TokenResponse)
	if !ok {
		t.Fatalf("body = %T, want *TokenResponse", res.Body)
	}
	if body.TokenType != "Bearer" || body.ExpiresIn != 3600 || body.RefreshToken != "token-2" {
		t.Errorf("body = %+v", body)
	}
	if res.Get("Cache-Control") != "no-store" || res.Get("Pragma") != "no-cache" {
		t.Errorf("cache headers = %v", res.Headers)
	}
	if res.Status != http.StatusOK {
		t.Errorf("status = %d", res.Status)
	}

	stored, err := f.store.GetAccessToken(context.Background(), "token-1")
	if err != nil || stored == nil {
		t.Fatalf("stored token = %v, %v", stored, err)
	}
}

func TestToken_PasswordInvalidCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	form := tokenForm(passwordForm()...)
	form.Set("password", "wrong")
	_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrInvalidGrant, "Invalid grant: user credentials are invalid")

	form.Del("password")
	_, err = f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrInvalidRequest, "Missing parameter: `password`")
}

func TestToken_RequestShape(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodGet, "/token", nil), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrInvalidRequest, "Invalid request: method must be POST")

	_, err = f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", nil), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrInvalidRequest, "Invalid request: content must be application/x-www-form-urlencoded")

	form := tokenForm(passwordForm()...)
	form.Del("grant_type")
	_, err = f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrInvalidRequest, "Missing parameter: `grant_type`")

	form.Set("grant_type", "foo")
	_, err = f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrUnsupportedGrantType, "Unsupported grant type: `grant_type` is invalid")
}

func TestToken_ClientAuthentication(t *testing.T) {
	f := newFixture(t, Options{})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", tokenForm("grant_type", "password")), oauth.NewResponse(), nil)
		expectError(t, err, oauth.ErrInvalidClient, "Invalid client: cannot retrieve client credentials")
	})

	t.Run("wrong secret in body", func(t *testing.T) {
		form := tokenForm(passwordForm()...)
		form.Set("client_secret", "wrong")
		_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
		oe := expectError(t, err, oauth.ErrInvalidClient, "Invalid client: client is invalid")
		if oe.Code != http.StatusBadRequest {
			t.Errorf("code = %d, want 400", oe.Code)
		}
	})

	t.Run("wrong secret with basic auth", func(t *testing.T) {
		req := newRequest(t, http.MethodPost, "/token", tokenForm("grant_type", "password", "username", "alice", "password", "wonderland"))
		req.Headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("web:wrong")))
		res := oauth.NewResponse()
		_, err := f.srv.Token(context.Background(), req, res, nil)
		oe := expectError(t, err, oauth.ErrInvalidClient, "")
		if oe.Code != http.StatusUnauthorized {
			t.Errorf("code = %d, want 401", oe.Code)
		}
		if got := res.Get("WWW-Authenticate"); got != `Basic realm="Service"` {
			t.Errorf("WWW-Authenticate = %q", got)
		}
	})

	t.Run("basic auth", func(t *testing.T) {
		req := newRequest(t, http.MethodPost, "/token", tokenForm("grant_type", "password", "username", "alice", "password", "wonderland"))
		req.Headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("web:web-secret")))
		if _, err := f.srv.Token(context.Background(), req, oauth.NewResponse(), nil); err != nil {
			t.Fatalf("Token: %v", err)
		}
	})

	t.Run("public client", func(t *testing.T) {
		form := tokenForm(passwordForm()...)
		form.Del("client_secret")
		opts := &TokenOptions{RequireClientAuthentication: map[string]bool{"password": false}}
		if _, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), opts); err != nil {
			t.Fatalf("Token: %v", err)
		}
	})
}

func TestToken_UnauthorizedClient(t *testing.T) {
	f := newFixture(t, Options{})
	limited := &oauth.Client{ID: "limited", Secret: "x", Grants: []string{"password"}}
	if err := f.store.CreateClient(context.Background(), limited); err != nil {
		t.Fatal(err)
	}
	form := tokenForm("grant_type", "client_credentials", "client_id", "limited", "client_secret", "x")
	_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrUnauthorizedClient, "Unauthorized client: `grant_type` is invalid")
}

func TestToken_ClientCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	form := tokenForm("grant_type", "client_credentials", "client_id", "web", "client_secret", "web-secret", "scope", "read")
	res := oauth.NewResponse()
	token, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), res, nil)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token.RefreshToken != "" {
		t.Errorf("client_credentials must not issue a refresh token")
	}
	if token.User.ID != oauth.ServiceUserPrefix+"web" {
		t.Errorf("user = %q", token.User.ID)
	}
	data, err := json.Marshal(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["refresh_token"]; ok {
		t.Errorf("refresh_token present in %s", data)
	}
	if body["scope"] != "read" {
		t.Errorf("scope = %v", body["scope"])
	}
}

func TestToken_RefreshToken(t *testing.T) {
	f := newFixture(t, Options{GenerateToken: sequentialTokens()})
	f.issue(t, "access-0", "refresh-0", "read", "write")
	refresh := func(value string, extra ...string) (*oauth.Token, error) {
		form := tokenForm(append([]string{"grant_type", "refresh_token", "refresh_token", value, "client_id", "web", "client_secret", "web-secret"}, extra...)...)
		return f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	}

	token, err := refresh("refresh-0", "scope", "read")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if token.RefreshToken == "" || token.RefreshToken == "refresh-0" {
		t.Errorf("expected a new refresh token, got %q", token.RefreshToken)
	}
	if len(token.Scope) != 1 || token.Scope[0] != "read" {
		t.Errorf("scope = %v", token.Scope)
	}

	_, err = refresh("refresh-0")
	expectError(t, err, oauth.ErrInvalidGrant, "Invalid grant: refresh token is invalid")

	_, err = refresh(token.RefreshToken, "scope", "read admin")
	expectError(t, err, oauth.ErrInvalidScope, "Invalid scope: Unable to add extra scopes")

	_, err = refresh("")
	expectError(t, err, oauth.ErrInvalidRequest, "Missing parameter: `refresh_token`")
}

func TestToken_RefreshTokenOtherClient(t *testing.T) {
	f := newFixture(t, Options{})
	f.issue(t, "access-0", "refresh-0")
	other := &oauth.Client{ID: "other", Secret: "o", Grants: []string{"refresh_token"}}
	if err := f.store.CreateClient(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	form := tokenForm("grant_type", "refresh_token", "refresh_token", "refresh-0", "client_id", "other", "client_secret", "o")
	_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	expectError(t, err, oauth.ErrInvalidGrant, "Invalid grant: refresh token is invalid")
}

// staleModel hands back "stale" records past their expiry, as a backend
// without read-side expiry filtering would.
type staleModel struct {
	*memory.Store
	client *oauth.Client
	user   *oauth.User
	now    time.Time
}

func (m staleModel) GetRefreshToken(ctx context.Context, token string) (*oauth.RefreshToken, error) {
	if token != "stale" {
		return m.Store.GetRefreshToken(ctx, token)
	}
	return &oauth.RefreshToken{RefreshToken: token, ExpiresAt: m.now.Add(-time.Second), Client: m.client, User: m.user}, nil
}

func (m staleModel) GetAuthorizationCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	if code != "stale" {
		return m.Store.GetAuthorizationCode(ctx, code)
	}
	return &oauth.AuthorizationCode{Code: code, ExpiresAt: m.now.Add(-time.Second), Client: m.client, User: m.user}, nil
}

func TestToken_StaleRecordsLookUnknown(t *testing.T) {
	f := newFixture(t, Options{})
	model := staleModel{Store: f.store, client: f.client, user: f.user, now: f.now}
	srv, err := NewServer(model, Options{Now: func() time.Time { return f.now }})
	if err != nil {
		t.Fatal(err)
	}
	redeem := func(kv ...string) error {
		form := tokenForm(append(kv, "client_id", "web", "client_secret", "web-secret")...)
		_, err := srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
		return err
	}

	tests := []struct {
		name          string
		stale, absent []string
	}{
		{
			"refresh token",
			[]string{"grant_type", "refresh_token", "refresh_token", "stale"},
			[]string{"grant_type", "refresh_token", "refresh_token", "missing"},
		},
		{
			"authorization code",
			[]string{"grant_type", "authorization_code", "code", "stale"},
			[]string{"grant_type", "authorization_code", "code", "missing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale, absent := redeem(tt.stale...), redeem(tt.absent...)
			expectError(t, stale, oauth.ErrInvalidGrant, "")
			if stale.Error() != absent.Error() {
				t.Errorf("stale %q, unknown %q", stale, absent)
			}
		})
	}
}

func TestToken_RefreshTokenWithoutRotation(t *testing.T) {
	rotate := false
	f := newFixture(t, Options{AlwaysIssueNewRefreshToken: &rotate})
	f.issue(t, "access-0", "refresh-0")
	form := tokenForm("grant_type", "refresh_token", "refresh_token", "refresh-0", "client_id", "web", "client_secret", "web-secret")
	token, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), oauth.NewResponse(), nil)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token.RefreshToken != "" {
		t.Errorf("refresh token = %q, want none", token.RefreshToken)
	}
	if rt, _ := f.store.GetRefreshToken(context.Background(), "refresh-0"); rt != nil {
		t.Errorf("consumed refresh token is still stored")
	}
}

func TestToken_ExtendedGrantType(t *testing.T) {
	const custom = "urn:example:params:oauth:grant-type:custom"
	f := newFixture(t, Options{})
	c := &oauth.Client{ID: "ext", Secret: "e", Grants: []string{custom}}
	if err := f.store.CreateClient(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	var called bool
	handler := HandlerFunc(func(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error) {
		called = true
		if req.Body.Get("assertion") != "abc" {
			return nil, oauth.InvalidGrant("Invalid grant: bad assertion")
		}
		return g.Issue(ctx, client, oauth.ServiceUser(client), nil, false)
	})
	form := tokenForm("grant_type", custom, "assertion", "abc", "client_id", "ext", "client_secret", "e")
	res := oauth.NewResponse()
	_, err := f.srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", form), res, &TokenOptions{
		ExtendedGrantTypes: map[string]Handler{custom: handler},
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !called {
		t.Errorf("extended grant handler was not called")
	}
}

func TestToken_ExtendedAttributes(t *testing.T) {
	token := &oauth.Token{AccessToken: "a", Extra: map[string]any{"id_token": "jwt", "access_token": "spoof"}}
	plain, _ := json.Marshal(NewTokenResponse(token, false, time.Now()))
	if string(plain) != `{"access_token":"a","token_type":"Bearer"}` {
		t.Errorf("plain = %s", plain)
	}
	extended, _ := json.Marshal(NewTokenResponse(token, true, time.Now()))
	var body map[string]any
	if err := json.Unmarshal(extended, &body); err != nil {
		t.Fatal(err)
	}
	if body["id_token"] != "jwt" || body["access_token"] != "a" {
		t.Errorf("extended = %s", extended)
	}
}

type failingModel struct{ err error }

func (m failingModel) GetClient(context.Context, string, string) (*oauth.Client, error) {
	return nil, m.err
}

func (m failingModel) SaveToken(context.Context, *oauth.Token, *oauth.Client, *oauth.User) (*oauth.Token, error) {
	return nil, m.err
}

func TestToken_StorageFault(t *testing.T) {
	cause := errors.New("connection refused")
	srv, err := NewServer(failingModel{err: cause}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = srv.Token(context.Background(), newRequest(t, http.MethodPost, "/token", tokenForm(passwordForm()...)), oauth.NewResponse(), nil)
	oe := expectError(t, err, oauth.ErrServerError, "Server error: unexpected failure")
	if oe.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", oe.Code)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause is not reachable through errors.Is")
	}
}
