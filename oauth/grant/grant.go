package grant

import (
	"context"
	"strings"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Handler implements one grant type of the token endpoint.
type Handler interface {
	Handle(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error)

func (f HandlerFunc) Handle(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error) {
	return f(ctx, req, client, g)
}

var builtinGrants = map[string]Handler{
	string(oauth.GrantTypeAuthorizationCode): HandlerFunc(authorizationCodeGrant),
	string(oauth.GrantTypeClientCredentials): HandlerFunc(clientCredentialsGrant),
	string(oauth.GrantTypePassword):          HandlerFunc(passwordGrant),
	string(oauth.GrantTypeRefreshToken):      HandlerFunc(refreshTokenGrant),
}

// Grant is the environment a Handler issues tokens in.
type Grant struct {
	Model                      oauth.Model
	AccessTokenLifetime        time.Duration
	RefreshTokenLifetime       time.Duration
	AlwaysIssueNewRefreshToken bool
	Extensions                 map[string]any

	now      func() time.Time
	generate func() (string, error)
}

func (g *Grant) Now() time.Time { return g.now() }

// Issue generates a token for client and user and persists it through the
// model's SaveToken.
func (g *Grant) Issue(ctx context.Context, client *oauth.Client, user *oauth.User, scope []string, withRefresh bool) (*oauth.Token, error) {
	store, ok := g.Model.(oauth.TokenStore)
	if !ok {
		return nil, missingMethod("SaveToken")
	}
	now := g.now()

	accessLifetime := g.AccessTokenLifetime
	if client.AccessTokenLifetime > 0 {
		accessLifetime = client.AccessTokenLifetime
	}
	access, err := g.generate()
	if err != nil {
		return nil, oauth.ServerError(err)
	}
	token := &oauth.Token{
		AccessToken:          access,
		AccessTokenExpiresAt: now.Add(accessLifetime),
		Scope:                scope,
		Client:               client,
		User:                 user,
	}
	if withRefresh {
		refreshLifetime := g.RefreshTokenLifetime
		if client.RefreshTokenLifetime > 0 {
			refreshLifetime = client.RefreshTokenLifetime
		}
		refresh, err := g.generate()
		if err != nil {
			return nil, oauth.ServerError(err)
		}
		token.RefreshToken = refresh
		token.RefreshTokenExpiresAt = now.Add(refreshLifetime)
	}

	saved, err := store.SaveToken(ctx, token, client, user)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if saved == nil {
		return token, nil
	}
	if saved.Client == nil {
		saved.Client = client
	}
	if saved.User == nil {
		saved.User = user
	}
	return saved, nil
}

// ValidateScope applies the model's scope policy, or the client's registered
// scopes when the model has none.
func (g *Grant) ValidateScope(ctx context.Context, client *oauth.Client, user *oauth.User, scope []string) ([]string, error) {
	if v, ok := g.Model.(oauth.ScopeValidator); ok {
		valid, err := v.ValidateScope(ctx, client, user, scope)
		if err != nil {
			return nil, oauth.AsError(err)
		}
		if valid == nil {
			return nil, oauth.InvalidScope("Invalid scope: Requested scope is invalid")
		}
		return valid, nil
	}
	if len(client.Scopes) > 0 && !isSubset(scope, client.Scopes) {
		return nil, oauth.InvalidScope("Invalid scope: Requested scope is invalid")
	}
	return scope, nil
}

// ParseScope splits a space delimited scope parameter.
func ParseScope(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if !isNQSChar(raw) {
		return nil, oauth.InvalidScope("Invalid parameter: `scope`")
	}
	return strings.Fields(raw), nil
}

func isSubset(sub, set []string) bool {
	for _, s := range sub {
		found := false
		for _, t := range set {
			if s == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
