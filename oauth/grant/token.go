package grant

import (
	"context"
	"net/http"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Token exchanges a grant for an access token (RFC 6749 §3.2). On success res
// carries the token response body with no-store caching headers.
func (s *Server) Token(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *TokenOptions) (*oauth.Token, error) {
	o := s.tokenOptions(opts)
	if _, ok := s.model.(oauth.ClientStore); !ok {
		return nil, missingMethod("GetClient")
	}
	if _, ok := s.model.(oauth.TokenStore); !ok {
		return nil, missingMethod("SaveToken")
	}

	if req.Method != http.MethodPost {
		return nil, oauth.InvalidRequest("Invalid request: method must be POST")
	}
	if !req.Is(oauth.ContentTypeForm) {
		return nil, oauth.InvalidRequest("Invalid request: content must be application/x-www-form-urlencoded")
	}

	grantType := req.Body.Get("grant_type")
	client, err := s.authenticateClient(ctx, req, res, o.requiresClientAuthentication(grantType))
	if err != nil {
		return nil, err
	}

	handler, err := s.grantHandler(grantType, client, o)
	if err != nil {
		return nil, err
	}

	token, err := handler.Handle(ctx, req, client, s.newGrant(o))
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if token == nil {
		return nil, oauth.ServerErrorf("Server error: grant did not return a token")
	}

	res.Body = NewTokenResponse(token, o.AllowExtendedTokenAttributes, s.now())
	res.Set("Cache-Control", "no-store")
	res.Set("Pragma", "no-cache")
	res.Status = http.StatusOK
	return token, nil
}

func (s *Server) grantHandler(grantType string, client *oauth.Client, o TokenOptions) (Handler, error) {
	if grantType == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `grant_type`")
	}
	if !isNChar(grantType) && !isURI(grantType) {
		return nil, oauth.InvalidRequest("Invalid parameter: `grant_type`")
	}
	handler, ok := builtinGrants[grantType]
	if !ok {
		handler, ok = o.ExtendedGrantTypes[grantType]
	}
	if !ok || handler == nil {
		return nil, oauth.UnsupportedGrantType("Unsupported grant type: `grant_type` is invalid")
	}
	if !client.HasGrant(grantType) {
		return nil, oauth.UnauthorizedClient("Unauthorized client: `grant_type` is invalid")
	}
	return handler, nil
}
