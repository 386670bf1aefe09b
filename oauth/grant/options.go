package grant

import (
	"context"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
)

const (
	DefaultAccessTokenLifetime       = time.Hour
	DefaultRefreshTokenLifetime      = 14 * 24 * time.Hour
	DefaultAuthorizationCodeLifetime = 5 * time.Minute
)

// Options are the engine defaults. Per-call options override them field by field.
type Options struct {
	AccessTokenLifetime       time.Duration
	RefreshTokenLifetime      time.Duration
	AuthorizationCodeLifetime time.Duration
	// AlwaysIssueNewRefreshToken controls whether the refresh_token grant hands
	// out a new refresh token. The consumed one is revoked either way. Defaults to true.
	AlwaysIssueNewRefreshToken *bool
	// RequireClientAuthentication maps grant types to whether a client secret
	// is required. Grants not listed require one.
	RequireClientAuthentication    map[string]bool
	AllowExtendedTokenAttributes   bool
	AllowBearerTokensInQueryString bool
	AllowEmptyState                bool
	ExtendedGrantTypes             map[string]Handler

	Now           func() time.Time
	GenerateToken func() (string, error)
}

func (o Options) withDefaults() Options {
	if o.AccessTokenLifetime == 0 {
		o.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if o.RefreshTokenLifetime == 0 {
		o.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if o.AuthorizationCodeLifetime == 0 {
		o.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if o.AlwaysIssueNewRefreshToken == nil {
		v := true
		o.AlwaysIssueNewRefreshToken = &v
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.GenerateToken == nil {
		o.GenerateToken = GenerateToken
	}
	return o
}

// AuthenticateOptions configure one authenticate call.
type AuthenticateOptions struct {
	// Scope that the presented token must cover.
	Scope                          []string
	AddAcceptedScopesHeader        bool
	AddAuthorizedScopesHeader      bool
	AllowBearerTokensInQueryString bool
	// Extensions are not interpreted by the default engine.
	Extensions map[string]any
}

// AuthenticateFunc resolves the resource owner on the authorize endpoint.
type AuthenticateFunc func(ctx context.Context, req *oauth.Request, res *oauth.Response) (*oauth.User, error)

type AuthorizeOptions struct {
	AuthorizationCodeLifetime time.Duration
	AllowEmptyState           bool
	// AuthenticateHandler replaces bearer token authentication of the resource owner.
	AuthenticateHandler AuthenticateFunc
	// Authenticate is used for the default bearer authentication of the resource owner.
	Authenticate *AuthenticateOptions
	Extensions   map[string]any
}

type TokenOptions struct {
	AccessTokenLifetime          time.Duration
	RefreshTokenLifetime         time.Duration
	AlwaysIssueNewRefreshToken   *bool
	RequireClientAuthentication  map[string]bool
	AllowExtendedTokenAttributes bool
	ExtendedGrantTypes           map[string]Handler
	Extensions                   map[string]any
}

func (s *Server) tokenOptions(opts *TokenOptions) TokenOptions {
	out := TokenOptions{
		AccessTokenLifetime:          s.opts.AccessTokenLifetime,
		RefreshTokenLifetime:         s.opts.RefreshTokenLifetime,
		AlwaysIssueNewRefreshToken:   s.opts.AlwaysIssueNewRefreshToken,
		RequireClientAuthentication:  map[string]bool{},
		AllowExtendedTokenAttributes: s.opts.AllowExtendedTokenAttributes,
		ExtendedGrantTypes:           map[string]Handler{},
	}
	for k, v := range s.opts.RequireClientAuthentication {
		out.RequireClientAuthentication[k] = v
	}
	for k, v := range s.opts.ExtendedGrantTypes {
		out.ExtendedGrantTypes[k] = v
	}
	if opts == nil {
		return out
	}
	if opts.AccessTokenLifetime > 0 {
		out.AccessTokenLifetime = opts.AccessTokenLifetime
	}
	if opts.RefreshTokenLifetime > 0 {
		out.RefreshTokenLifetime = opts.RefreshTokenLifetime
	}
	if opts.AlwaysIssueNewRefreshToken != nil {
		out.AlwaysIssueNewRefreshToken = opts.AlwaysIssueNewRefreshToken
	}
	for k, v := range opts.RequireClientAuthentication {
		out.RequireClientAuthentication[k] = v
	}
	for k, v := range opts.ExtendedGrantTypes {
		out.ExtendedGrantTypes[k] = v
	}
	out.AllowExtendedTokenAttributes = out.AllowExtendedTokenAttributes || opts.AllowExtendedTokenAttributes
	out.Extensions = opts.Extensions
	return out
}

func (o TokenOptions) requiresClientAuthentication(grantType string) bool {
	required, ok := o.RequireClientAuthentication[grantType]
	return !ok || required
}
