package grant

import (
	"context"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// clientCredentialsGrant implements RFC 6749 §4.4. No refresh token is issued.
func clientCredentialsGrant(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error) {
	users, ok := g.Model.(oauth.ClientUserStore)
	if !ok {
		return nil, missingMethod("GetUserFromClient")
	}

	user, err := users.GetUserFromClient(ctx, client)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if user == nil {
		return nil, oauth.InvalidGrant("Invalid grant: user credentials are invalid")
	}

	scope, err := ParseScope(req.Body.Get("scope"))
	if err != nil {
		return nil, err
	}
	scope, err = g.ValidateScope(ctx, client, user, scope)
	if err != nil {
		return nil, err
	}
	return g.Issue(ctx, client, user, scope, false)
}
