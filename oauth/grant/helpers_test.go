package grant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/storage/memory"
)

type fixture struct {
	store  *memory.Store
	srv    *Server
	client *oauth.Client
	user   *oauth.User
	now    time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.store = memory.New(memory.WithClock(clock))
	opts.Now = clock

	ctx := context.Background()
	f.client = &oauth.Client{
		ID:           "web",
		Secret:       "web-secret",
		RedirectURIs: []string{"http://example.com/cb"},
		Grants:       []string{"password", "authorization_code", "refresh_token", "client_credentials"},
	}
	if err := f.store.CreateClient(ctx, f.client); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	user, err := f.store.CreateUser(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	f.user = user

	srv, err := NewServer(f.store, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f.srv = srv
	return f
}

// issue stores a token for the fixture user and returns it.
func (f *fixture) issue(t *testing.T, access, refresh string, scope ...string) {
	t.Helper()
	tok := &oauth.Token{
		AccessToken:          access,
		AccessTokenExpiresAt: f.now.Add(time.Hour),
		Scope:                scope,
	}
	if refresh != "" {
		tok.RefreshToken = refresh
		tok.RefreshTokenExpiresAt = f.now.Add(24 * time.Hour)
	}
	if _, err := f.store.SaveToken(context.Background(), tok, f.client, f.user); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
}

func newRequest(t *testing.T, method, target string, form url.Values) *oauth.Request {
	t.Helper()
	var r *http.Request
	if form != nil {
		r = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	req, err := oauth.NewRequest(r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func tokenForm(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func expectError(t *testing.T, err error, want *oauth.Error, description string) *oauth.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want.Name)
	}
	var oe *oauth.Error
	if !errors.As(err, &oe) {
		t.Fatalf("expected *oauth.Error, got %T: %v", err, err)
	}
	if oe.Name != want.Name {
		t.Fatalf("error name = %q (%s), want %q", oe.Name, oe.Description, want.Name)
	}
	if description != "" && oe.Description != description {
		t.Fatalf("error description = %q, want %q", oe.Description, description)
	}
	return oe
}
