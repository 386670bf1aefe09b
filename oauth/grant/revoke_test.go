package grant

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
)

func TestRevoke(t *testing.T) {
	f := newFixture(t, Options{})
	f.issue(t, "access-0", "refresh-0")
	revoke := func(extra ...string) error {
		form := tokenForm(append([]string{"client_id", "web", "client_secret", "web-secret"}, extra...)...)
		return f.srv.Revoke(context.Background(), newRequest(t, http.MethodPost, "/revoke", form), oauth.NewResponse())
	}

	if err := revoke("token", "refresh-0"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if rt, _ := f.store.GetRefreshToken(context.Background(), "refresh-0"); rt != nil {
		t.Errorf("refresh token survived revocation")
	}
	if at, _ := f.store.GetAccessToken(context.Background(), "access-0"); at == nil {
		t.Errorf("access token was revoked with its refresh token")
	}

	if err := revoke("token", "access-0", "token_type_hint", "access_token"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if at, _ := f.store.GetAccessToken(context.Background(), "access-0"); at != nil {
		t.Errorf("access token survived revocation")
	}

	if err := revoke("token", "unknown"); err != nil {
		t.Errorf("revoking an unknown token = %v, want nil", err)
	}

	err := revoke()
	expectError(t, err, oauth.ErrInvalidRequest, "Missing parameter: `token`")
}

func TestRevoke_OtherClientsToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.issue(t, "access-0", "refresh-0")
	other := &oauth.Client{ID: "other", Secret: "o", Grants: []string{"password"}}
	if err := f.store.CreateClient(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	form := tokenForm("client_id", "other", "client_secret", "o", "token", "refresh-0")
	if err := f.srv.Revoke(context.Background(), newRequest(t, http.MethodPost, "/revoke", form), oauth.NewResponse()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if rt, _ := f.store.GetRefreshToken(context.Background(), "refresh-0"); rt == nil {
		t.Errorf("another client revoked the token")
	}
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t, Options{})
	f.issue(t, "access-0", "refresh-0", "read")
	introspect := func(token string) *Introspection {
		t.Helper()
		form := tokenForm("client_id", "web", "client_secret", "web-secret", "token", token)
		res := oauth.NewResponse()
		in, err := f.srv.Introspect(context.Background(), newRequest(t, http.MethodPost, "/introspect", form), res)
		if err != nil {
			t.Fatalf("Introspect: %v", err)
		}
		if res.Body != in {
			t.Errorf("response body is not the introspection result")
		}
		return in
	}

	in := introspect("access-0")
	if !in.Active || in.Scope != "read" || in.ClientID != "web" || in.Subject != f.user.ID || in.Username != "alice" {
		t.Errorf("introspection = %+v", in)
	}
	if in.TokenType != TokenTypeBearer || in.ExpiresAt != f.now.Add(time.Hour).Unix() {
		t.Errorf("introspection = %+v", in)
	}

	if in := introspect("refresh-0"); !in.Active || in.TokenType != "refresh_token" {
		t.Errorf("refresh introspection = %+v", in)
	}
	if in := introspect("nope"); in.Active {
		t.Errorf("unknown token is active")
	}

	f.now = f.now.Add(2 * time.Hour)
	if in := introspect("access-0"); in.Active {
		t.Errorf("expired token is active")
	}
}

func TestIntrospect_RequiresClient(t *testing.T) {
	f := newFixture(t, Options{})
	form := tokenForm("token", "x")
	_, err := f.srv.Introspect(context.Background(), newRequest(t, http.MethodPost, "/introspect", form), oauth.NewResponse())
	expectError(t, err, oauth.ErrInvalidClient, "")
}
