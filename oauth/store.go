package oauth

import "context"

// Model is the storage backend handed to the grant engine. A backend only needs
// to implement the interfaces below that the grants it supports require; the
// engine checks for each one when it is first needed.
//
// Every lookup follows the same convention: (record, nil) when found, (nil, nil)
// when absent, and (nil, err) only for a genuine backend failure.
type Model any

type ClientStore interface {
	// GetClient returns the client when clientID matches and clientSecret is
	// either empty or equal to the stored secret.
	GetClient(ctx context.Context, clientID, clientSecret string) (*Client, error)
}

type UserStore interface {
	GetUser(ctx context.Context, username, password string) (*User, error)
}

type AccessTokenStore interface {
	GetAccessToken(ctx context.Context, accessToken string) (*AccessToken, error)
}

type RefreshTokenStore interface {
	GetRefreshToken(ctx context.Context, refreshToken string) (*RefreshToken, error)
	// RevokeToken deletes the access or refresh token with the given value.
	// It reports false, without error, when nothing was left to delete.
	RevokeToken(ctx context.Context, token string) (bool, error)
}

type TokenStore interface {
	// SaveToken persists both halves of token. Either both are stored or neither is.
	SaveToken(ctx context.Context, token *Token, client *Client, user *User) (*Token, error)
}

type AuthorizationCodeStore interface {
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode, client *Client, user *User) (*AuthorizationCode, error)
	// RevokeAuthorizationCode reports true only for the call that consumed the code.
	RevokeAuthorizationCode(ctx context.Context, code string) (bool, error)
}

type ClientUserStore interface {
	GetUserFromClient(ctx context.Context, client *Client) (*User, error)
}

// ScopeVerifier is consulted by authenticate when a scope is required.
type ScopeVerifier interface {
	VerifyScope(ctx context.Context, token *AccessToken, scope []string) (bool, error)
}

// ScopeValidator lets a backend narrow or reject the scope requested by a grant.
// A nil result with a nil error rejects the request.
type ScopeValidator interface {
	ValidateScope(ctx context.Context, client *Client, user *User, scope []string) ([]string, error)
}

// Storage is the full contract implemented by the bundled backends.
type Storage interface {
	ClientStore
	UserStore
	AccessTokenStore
	RefreshTokenStore
	TokenStore
	AuthorizationCodeStore
	ClientUserStore
}

// Registrar creates clients and users. It is an administrative surface and is
// never called by the grant engine.
type Registrar interface {
	CreateClient(ctx context.Context, client *Client) error
	CreateUser(ctx context.Context, username, password string) (*User, error)
}
