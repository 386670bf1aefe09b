package grant

import (
	"context"
	"net/http"
	"strings"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Introspect reports whether a token is active (RFC 7662). The caller must
// authenticate as a client. Unknown and expired tokens yield {"active":false}.
func (s *Server) Introspect(ctx context.Context, req *oauth.Request, res *oauth.Response) (*Introspection, error) {
	access, ok := s.model.(oauth.AccessTokenStore)
	if !ok {
		return nil, missingMethod("GetAccessToken")
	}
	if req.Method != http.MethodPost {
		return nil, oauth.InvalidRequest("Invalid request: method must be POST")
	}
	if !req.Is(oauth.ContentTypeForm) {
		return nil, oauth.InvalidRequest("Invalid request: content must be application/x-www-form-urlencoded")
	}
	if _, err := s.authenticateClient(ctx, req, res, true); err != nil {
		return nil, err
	}

	value := req.Body.Get("token")
	if value == "" {
		return nil, oauth.InvalidRequest("Missing parameter: `token`")
	}

	result, err := s.introspect(ctx, access, value, req.Body.Get("token_type_hint"))
	if err != nil {
		return nil, err
	}
	res.Body = result
	res.Set("Cache-Control", "no-store")
	res.Status = http.StatusOK
	return result, nil
}

func (s *Server) introspect(ctx context.Context, access oauth.AccessTokenStore, value, hint string) (*Introspection, error) {
	now := s.now()
	lookups := []func() (*Introspection, error){
		func() (*Introspection, error) {
			at, err := access.GetAccessToken(ctx, value)
			if err != nil || at == nil || at.Expired(now) {
				return nil, err
			}
			return accessIntrospection(at), nil
		},
	}
	if refresh, ok := s.model.(oauth.RefreshTokenStore); ok {
		byRefresh := func() (*Introspection, error) {
			rt, err := refresh.GetRefreshToken(ctx, value)
			if err != nil || rt == nil || rt.Expired(now) {
				return nil, err
			}
			return refreshIntrospection(rt), nil
		}
		if hint == "refresh_token" {
			lookups = append([]func() (*Introspection, error){byRefresh}, lookups...)
		} else {
			lookups = append(lookups, byRefresh)
		}
	}

	for _, lookup := range lookups {
		in, err := lookup()
		if err != nil {
			return nil, oauth.AsError(err)
		}
		if in != nil {
			return in, nil
		}
	}
	return &Introspection{Active: false}, nil
}

func accessIntrospection(at *oauth.AccessToken) *Introspection {
	in := &Introspection{
		Active:    true,
		Scope:     strings.Join(at.Scope, " "),
		ClientID:  at.ClientID,
		TokenType: TokenTypeBearer,
		ExpiresAt: at.ExpiresAt.Unix(),
		Subject:   at.UserID,
	}
	if at.Client != nil {
		in.ClientID = at.Client.ID
	}
	if at.User != nil {
		in.Subject = at.User.ID
		in.Username = at.User.Username
	}
	return in
}

func refreshIntrospection(rt *oauth.RefreshToken) *Introspection {
	in := &Introspection{
		Active:    true,
		Scope:     strings.Join(rt.Scope, " "),
		ClientID:  rt.ClientID,
		TokenType: "refresh_token",
		Subject:   rt.UserID,
	}
	if !rt.ExpiresAt.IsZero() {
		in.ExpiresAt = rt.ExpiresAt.Unix()
	}
	if rt.Client != nil {
		in.ClientID = rt.Client.ID
	}
	if rt.User != nil {
		in.Subject = rt.User.ID
		in.Username = rt.User.Username
	}
	return in
}
