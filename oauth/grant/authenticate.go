package grant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Authenticate validates the bearer token presented with req (RFC 6750).
func (s *Server) Authenticate(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthenticateOptions) (*oauth.AccessToken, error) {
	if opts == nil {
		opts = &AuthenticateOptions{}
	}
	store, ok := s.model.(oauth.AccessTokenStore)
	if !ok {
		return nil, missingMethod("GetAccessToken")
	}
	var verifier oauth.ScopeVerifier
	if len(opts.Scope) > 0 {
		if verifier, ok = s.model.(oauth.ScopeVerifier); !ok {
			return nil, missingMethod("VerifyScope")
		}
	}

	token, err := s.authenticate(ctx, store, verifier, req, res, opts)
	if err != nil {
		oe := oauth.AsError(err)
		if errors.Is(oe, oauth.ErrUnauthorizedRequest) {
			res.Set("WWW-Authenticate", `Bearer realm="Service"`)
		}
		return nil, oe
	}
	return token, nil
}

func (s *Server) authenticate(ctx context.Context, store oauth.AccessTokenStore, verifier oauth.ScopeVerifier, req *oauth.Request, res *oauth.Response, opts *AuthenticateOptions) (*oauth.AccessToken, error) {
	bearer, err := s.tokenFromRequest(req, opts)
	if err != nil {
		return nil, err
	}

	token, err := store.GetAccessToken(ctx, bearer)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if token == nil {
		return nil, oauth.InvalidToken("Invalid token: access token is invalid")
	}
	if token.User == nil {
		if token.UserID == "" {
			return nil, oauth.ServerErrorf("Server error: `GetAccessToken()` did not return a `user` object")
		}
		token.User = &oauth.User{ID: token.UserID}
	}
	if token.ExpiresAt.IsZero() {
		return nil, oauth.ServerErrorf("Server error: `GetAccessToken()` did not return an expiry")
	}
	if token.Expired(s.now()) {
		return nil, oauth.InvalidToken("Invalid token: access token has expired")
	}

	if len(opts.Scope) > 0 {
		ok, err := verifier.VerifyScope(ctx, token, opts.Scope)
		if err != nil {
			return nil, oauth.AsError(err)
		}
		if !ok {
			return nil, oauth.InsufficientScope("Insufficient scope: authorized scope is insufficient")
		}
	}

	if opts.AddAcceptedScopesHeader && len(opts.Scope) > 0 {
		res.Set("X-Accepted-OAuth-Scopes", strings.Join(opts.Scope, " "))
	}
	if opts.AddAuthorizedScopesHeader && len(token.Scope) > 0 {
		res.Set("X-OAuth-Scopes", strings.Join(token.Scope, " "))
	}
	return token, nil
}

// tokenFromRequest extracts the bearer token from exactly one of the header,
// the query string or a form body.
func (s *Server) tokenFromRequest(req *oauth.Request, opts *AuthenticateOptions) (string, error) {
	header := req.Get("Authorization")
	query := req.Query.Get("access_token")
	body := req.Body.Get("access_token")

	present := 0
	for _, v := range []string{header, query, body} {
		if v != "" {
			present++
		}
	}
	if present > 1 {
		return "", oauth.InvalidRequest("Invalid request: only one authentication method is allowed")
	}

	switch {
	case header != "":
		return tokenFromHeader(header)
	case query != "":
		if !s.opts.AllowBearerTokensInQueryString && !opts.AllowBearerTokensInQueryString {
			return "", oauth.InvalidRequest("Invalid request: do not send bearer tokens in query URLs")
		}
		return query, nil
	case body != "":
		if req.Method == http.MethodGet {
			return "", oauth.InvalidRequest("Invalid request: token may not be passed in the body when using the GET verb")
		}
		if !req.Is(oauth.ContentTypeForm) {
			return "", oauth.InvalidRequest("Invalid request: content must be application/x-www-form-urlencoded")
		}
		return body, nil
	}
	return "", oauth.UnauthorizedRequest("Unauthorized request: no authentication given")
}

func tokenFromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", oauth.InvalidRequest("Invalid request: malformed authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", oauth.InvalidRequest("Invalid request: malformed authorization header")
	}
	return token, nil
}
