package grant

import (
	"context"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// passwordGrant implements the resource owner password credentials grant (RFC 6749 §4.3).
func passwordGrant(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error) {
	users, ok := g.Model.(oauth.UserStore)
	if !ok {
		return nil, missingMethod("GetUser")
	}

	username := req.Body.Get("username")
	if username == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `username`")
	}
	password := req.Body.Get("password")
	if password == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `password`")
	}
	if !isUChar(username) {
		return nil, oauth.InvalidRequest("Invalid parameter: `username`")
	}
	if !isUChar(password) {
		return nil, oauth.InvalidRequest("Invalid parameter: `password`")
	}

	user, err := users.GetUser(ctx, username, password)
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
	return g.Issue(ctx, client, user, scope, true)
}
