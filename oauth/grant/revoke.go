package grant

import (
	"context"
	"net/http"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Revoke invalidates an access or refresh token held by the authenticated
// client (RFC 7009). Unknown tokens, and tokens issued to other clients, are
// not an error: the response is 200 either way.
func (s *Server) Revoke(ctx context.Context, req *oauth.Request, res *oauth.Response) error {
	tokens, ok := s.model.(oauth.RefreshTokenStore)
	if !ok {
		return missingMethod("RevokeToken")
	}
	if req.Method != http.MethodPost {
		return oauth.InvalidRequest("Invalid request: method must be POST")
	}
	if !req.Is(oauth.ContentTypeForm) {
		return oauth.InvalidRequest("Invalid request: content must be application/x-www-form-urlencoded")
	}

	client, err := s.authenticateClient(ctx, req, res, true)
	if err != nil {
		return err
	}

	value := req.Body.Get("token")
	if value == "" {
		return oauth.InvalidRequest("Missing parameter: `token`")
	}
	if !isVSChar(value) {
		return oauth.InvalidRequest("Invalid parameter: `token`")
	}

	owner, err := s.tokenOwner(ctx, tokens, value, req.Body.Get("token_type_hint"))
	if err != nil {
		return err
	}
	if owner == client.ID {
		if _, err := tokens.RevokeToken(ctx, value); err != nil {
			return oauth.AsError(err)
		}
	}

	res.Set("Cache-Control", "no-store")
	res.Set("Pragma", "no-cache")
	res.Status = http.StatusOK
	return nil
}

// tokenOwner returns the id of the client a token was issued to, or "" when
// the token is unknown. The hint only decides which kind is looked up first.
func (s *Server) tokenOwner(ctx context.Context, refresh oauth.RefreshTokenStore, value, hint string) (string, error) {
	lookups := []func() (string, error){
		func() (string, error) {
			rt, err := refresh.GetRefreshToken(ctx, value)
			if err != nil || rt == nil {
				return "", err
			}
			if rt.Client != nil {
				return rt.Client.ID, nil
			}
			return rt.ClientID, nil
		},
	}
	if access, ok := s.model.(oauth.AccessTokenStore); ok {
		byAccess := func() (string, error) {
			at, err := access.GetAccessToken(ctx, value)
			if err != nil || at == nil {
				return "", err
			}
			if at.Client != nil {
				return at.Client.ID, nil
			}
			return at.ClientID, nil
		}
		if hint == "access_token" {
			lookups = append([]func() (string, error){byAccess}, lookups...)
		} else {
			lookups = append(lookups, byAccess)
		}
	}

	for _, lookup := range lookups {
		owner, err := lookup()
		if err != nil {
			return "", oauth.AsError(err)
		}
		if owner != "" {
			return owner, nil
		}
	}
	return "", nil
}
