package grant

import (
	"context"
	"net/url"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Authorize issues an authorization code (RFC 6749 §4.1.1). On success res
// carries a redirect back to the client with code and state. Errors raised
// after the redirect URI has been validated carry that URI in RedirectURI.
func (s *Server) Authorize(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthorizeOptions) (*oauth.AuthorizationCode, error) {
	if opts == nil {
		opts = &AuthorizeOptions{}
	}
	clients, ok := s.model.(oauth.ClientStore)
	if !ok {
		return nil, missingMethod("GetClient")
	}
	codes, ok := s.model.(oauth.AuthorizationCodeStore)
	if !ok {
		return nil, missingMethod("SaveAuthorizationCode")
	}
	if opts.AuthenticateHandler == nil {
		if _, ok := s.model.(oauth.AccessTokenStore); !ok {
			return nil, missingMethod("GetAccessToken")
		}
	}

	client, err := s.authorizeClient(ctx, clients, req)
	if err != nil {
		return nil, err
	}

	user, err := s.resourceOwner(ctx, req, res, opts)
	if err != nil {
		return nil, err
	}

	rawURI := req.Param("redirect_uri")
	if rawURI == "" {
		rawURI = client.RedirectURIs[0]
	}
	redirect, err := url.Parse(rawURI)
	if err != nil {
		return nil, oauth.InvalidRequest("Invalid request: `redirect_uri` is not a valid URI")
	}

	state := req.Param("state")
	code, err := s.issueCode(ctx, codes, req, client, user, rawURI, opts)
	if err != nil {
		oe := oauth.AsError(err)
		return nil, oe.WithRedirect(errorRedirect(redirect, oe, state))
	}

	res.Redirect(successRedirect(redirect, code.Code, state))
	return code, nil
}

func (s *Server) authorizeClient(ctx context.Context, store oauth.ClientStore, req *oauth.Request) (*oauth.Client, error) {
	clientID := req.Param("client_id")
	if clientID == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `client_id`")
	}
	if !isVSChar(clientID) {
		return nil, oauth.InvalidRequest("Invalid parameter: `client_id`")
	}
	redirectURI := req.Param("redirect_uri")
	if redirectURI != "" && !isURI(redirectURI) {
		return nil, oauth.InvalidRequest("Invalid request: `redirect_uri` is not a valid URI")
	}

	client, err := store.GetClient(ctx, clientID, "")
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if client == nil {
		return nil, oauth.InvalidClient("Invalid client: client credentials are invalid")
	}
	if len(client.Grants) == 0 {
		return nil, oauth.InvalidClient("Invalid client: missing client `grants`")
	}
	if !client.HasGrant(string(oauth.GrantTypeAuthorizationCode)) {
		return nil, oauth.UnauthorizedClient("Unauthorized client: `grant_type` is invalid")
	}
	if len(client.RedirectURIs) == 0 {
		return nil, oauth.InvalidClient("Invalid client: missing client `redirectUri`")
	}
	if redirectURI != "" && !client.HasRedirectURI(redirectURI) {
		return nil, oauth.InvalidClient("Invalid client: `redirect_uri` does not match client value")
	}
	return client, nil
}

func (s *Server) resourceOwner(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthorizeOptions) (*oauth.User, error) {
	if opts.AuthenticateHandler != nil {
		user, err := opts.AuthenticateHandler(ctx, req, res)
		if err != nil {
			return nil, oauth.AsError(err)
		}
		if user == nil {
			return nil, oauth.ServerErrorf("Server error: authenticate handler did not return a `user` object")
		}
		return user, nil
	}
	token, err := s.Authenticate(ctx, req, res, opts.Authenticate)
	if err != nil {
		return nil, err
	}
	return token.User, nil
}

// issueCode runs the checks that are reported through the redirect URI and
// saves the authorization code.
func (s *Server) issueCode(ctx context.Context, store oauth.AuthorizationCodeStore, req *oauth.Request, client *oauth.Client, user *oauth.User, redirectURI string, opts *AuthorizeOptions) (*oauth.AuthorizationCode, error) {
	state := req.Param("state")
	if state == "" && !(s.opts.AllowEmptyState || opts.AllowEmptyState) {
		return nil, oauth.InvalidRequest("Missing parameter: `state`")
	}
	if state != "" && !isVSChar(state) {
		return nil, oauth.InvalidRequest("Invalid parameter: `state`")
	}
	if req.Param("allowed") == "false" {
		return nil, oauth.AccessDenied("Access denied: user denied access to application")
	}

	responseType := req.Param("response_type")
	if responseType == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `response_type`")
	}
	if responseType != "code" {
		return nil, oauth.UnsupportedResponseType("Unsupported response type: `response_type` is not supported")
	}

	scope, err := ParseScope(req.Param("scope"))
	if err != nil {
		return nil, err
	}
	g := s.newGrant(s.tokenOptions(nil))
	scope, err = g.ValidateScope(ctx, client, user, scope)
	if err != nil {
		return nil, err
	}

	challenge := req.Param("code_challenge")
	method := req.Param("code_challenge_method")
	if challenge != "" {
		if method == "" {
			method = CodeChallengeMethodPlain
		}
		if !isCodeChallengeMethod(method) {
			return nil, oauth.InvalidRequest("Invalid request: transform algorithm '" + method + "' not supported")
		}
		if !isCodeChallenge(challenge) {
			return nil, oauth.InvalidRequest("Invalid parameter: `code_challenge`")
		}
	} else if method != "" {
		return nil, oauth.InvalidRequest("Missing parameter: `code_challenge`")
	}

	value, err := s.opts.GenerateToken()
	if err != nil {
		return nil, oauth.ServerError(err)
	}
	lifetime := s.opts.AuthorizationCodeLifetime
	if opts.AuthorizationCodeLifetime > 0 {
		lifetime = opts.AuthorizationCodeLifetime
	}
	code := &oauth.AuthorizationCode{
		Code:                value,
		ExpiresAt:           s.now().Add(lifetime),
		RedirectURI:         redirectURI,
		Scope:               scope,
		ClientID:            client.ID,
		UserID:              user.ID,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Client:              client,
		User:                user,
	}
	if challenge == "" {
		code.CodeChallengeMethod = ""
	}

	saved, err := store.SaveAuthorizationCode(ctx, code, client, user)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if saved != nil && saved.Code != "" {
		code = saved
	}
	return code, nil
}

func (s *Server) newGrant(opts TokenOptions) *Grant {
	return &Grant{
		Model:                      s.model,
		AccessTokenLifetime:        opts.AccessTokenLifetime,
		RefreshTokenLifetime:       opts.RefreshTokenLifetime,
		AlwaysIssueNewRefreshToken: opts.AlwaysIssueNewRefreshToken != nil && *opts.AlwaysIssueNewRefreshToken,
		Extensions:                 opts.Extensions,
		now:                        s.opts.Now,
		generate:                   s.opts.GenerateToken,
	}
}

func successRedirect(base *url.URL, code, state string) *url.URL {
	u := *base
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return &u
}

func errorRedirect(base *url.URL, e *oauth.Error, state string) *url.URL {
	u := *base
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("error", e.Name)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return &u
}

