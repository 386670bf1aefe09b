package grant

import (
	"context"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// MockEngine provides customizable hooks for testing code built on Engine.
type MockEngine struct {
	AuthenticateFunc func(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthenticateOptions) (*oauth.AccessToken, error)
	AuthorizeFunc    func(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthorizeOptions) (*oauth.AuthorizationCode, error)
	TokenFunc        func(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *TokenOptions) (*oauth.Token, error)
	RevokeFunc       func(ctx context.Context, req *oauth.Request, res *oauth.Response) error
	IntrospectFunc   func(ctx context.Context, req *oauth.Request, res *oauth.Response) (*Introspection, error)
}

// Ensure MockEngine implements Engine
var _ Engine = (*MockEngine)(nil)

// Authenticate calls AuthenticateFunc if set, otherwise returns nil, nil
func (m *MockEngine) Authenticate(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthenticateOptions) (*oauth.AccessToken, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, req, res, opts)
	}
	return nil, nil
}

// Authorize calls AuthorizeFunc if set, otherwise returns nil, nil
func (m *MockEngine) Authorize(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthorizeOptions) (*oauth.AuthorizationCode, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, req, res, opts)
	}
	return nil, nil
}

// Token calls TokenFunc if set, otherwise returns nil, nil
func (m *MockEngine) Token(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *TokenOptions) (*oauth.Token, error) {
	if m.TokenFunc != nil {
		return m.TokenFunc(ctx, req, res, opts)
	}
	return nil, nil
}

// Revoke calls RevokeFunc if set, otherwise returns nil
func (m *MockEngine) Revoke(ctx context.Context, req *oauth.Request, res *oauth.Response) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, req, res)
	}
	return nil
}

// Introspect calls IntrospectFunc if set, otherwise returns nil, nil
func (m *MockEngine) Introspect(ctx context.Context, req *oauth.Request, res *oauth.Response) (*Introspection, error) {
	if m.IntrospectFunc != nil {
		return m.IntrospectFunc(ctx, req, res)
	}
	return nil, nil
}
