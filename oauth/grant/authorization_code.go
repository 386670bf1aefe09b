package grant

import (
	"context"

	"github.com/Seann-Moser/oauthserver/oauth"
)

const invalidAuthorizationCode = "Invalid grant: authorization code is invalid"

// authorizationCodeGrant redeems a code minted by Authorize (RFC 6749 §4.1.3).
// The code is consumed before the token is issued, so a replay always fails.
func authorizationCodeGrant(ctx context.Context, req *oauth.Request, client *oauth.Client, g *Grant) (*oauth.Token, error) {
	codes, ok := g.Model.(oauth.AuthorizationCodeStore)
	if !ok {
		return nil, missingMethod("GetAuthorizationCode")
	}

	value := req.Body.Get("code")
	if value == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `code`")
	}
	if !isVSChar(value) {
		return nil, oauth.InvalidRequest("Invalid parameter: `code`")
	}

	code, err := codes.GetAuthorizationCode(ctx, value)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if code == nil {
		return nil, oauth.InvalidGrant(invalidAuthorizationCode)
	}
	if code.ExpiresAt.IsZero() {
		return nil, oauth.ServerErrorf("Server error: `GetAuthorizationCode()` did not return an expiry")
	}
	clientID := code.ClientID
	if code.Client != nil {
		clientID = code.Client.ID
	}
	if clientID != client.ID || code.Expired(g.Now()) {
		return nil, oauth.InvalidGrant(invalidAuthorizationCode)
	}

	if code.RedirectURI != "" {
		redirectURI := req.Body.Get("redirect_uri")
		if redirectURI != "" && !isURI(redirectURI) {
			return nil, oauth.InvalidRequest("Invalid request: `redirect_uri` is not a valid URI")
		}
		if redirectURI != code.RedirectURI {
			return nil, oauth.InvalidRequest("Invalid request: `redirect_uri` is invalid")
		}
	}

	verifier := req.Body.Get("code_verifier")
	if code.CodeChallenge != "" {
		if verifier == "" {
			return nil, oauth.InvalidGrant("Missing parameter: `code_verifier`")
		}
		if !VerifyCodeVerifier(code.CodeChallengeMethod, verifier, code.CodeChallenge) {
			return nil, oauth.InvalidGrant("Invalid grant: code verifier is invalid")
		}
	} else if verifier != "" {
		return nil, oauth.InvalidGrant("Invalid grant: code verifier is invalid")
	}

	user := code.User
	if user == nil {
		if code.UserID == "" {
			return nil, oauth.ServerErrorf("Server error: `GetAuthorizationCode()` did not return a `user` object")
		}
		user = &oauth.User{ID: code.UserID}
	}

	revoked, err := codes.RevokeAuthorizationCode(ctx, code.Code)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if !revoked {
		return nil, oauth.InvalidGrant(invalidAuthorizationCode)
	}

	return g.Issue(ctx, client, user, code.Scope, true)
}
