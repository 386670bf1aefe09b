package grant

import (
	"context"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// An expired, consumed or foreign refresh token is reported exactly like an
// unknown one.
const invalidRefreshToken = "Invalid grant: refresh token is invalid"

// refreshTokenGrant implements RFC 6749 §6. The presented refresh token is
// revoked before the new token is issued.
func refreshTokenGrant(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error) {
	tokens, ok := g.Model.(oauth.RefreshTokenStore)
	if !ok {
		return nil, missingMethod("GetRefreshToken")
	}

	value := req.Body.Get("refresh_token")
	if value == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `refresh_token`")
	}
	if !isVSChar(value) {
		return nil, oauth.InvalidRequest("Invalid parameter: `refresh_token`")
	}

	refresh, err := tokens.GetRefreshToken(ctx, value)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if refresh == nil {
		return nil, oauth.InvalidGrant(invalidRefreshToken)
	}
	clientID := refresh.ClientID
	if refresh.Client != nil {
		clientID = refresh.Client.ID
	}
	if clientID != client.ID || refresh.Expired(g.Now()) {
		return nil, oauth.InvalidGrant(invalidRefreshToken)
	}

	user := refresh.User
	if user == nil {
		if refresh.UserID == "" {
			return nil, oauth.ServerErrorf("Server error: `GetRefreshToken()` did not return a `user` object")
		}
		user = &oauth.User{ID: refresh.UserID}
	}

	scope := refresh.Scope
	if raw := req.Body.Get("scope"); raw != "" {
		requested, err := ParseScope(raw)
		if err != nil {
			return nil, err
		}
		if !isSubset(requested, refresh.Scope) {
			return nil, oauth.InvalidScope("Invalid scope: Unable to add extra scopes")
		}
		scope = requested
	}

	revoked, err := tokens.RevokeToken(ctx, refresh.RefreshToken)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if !revoked {
		return nil, oauth.InvalidGrant(invalidRefreshToken)
	}

	return g.Issue(ctx, client, user, scope, g.AlwaysIssueNewRefreshToken)
}
