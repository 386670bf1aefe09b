package oauthserver

import (
	"context"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/oauth/grant"
)

type contextKey string

const outcomeKey contextKey = "OAUTH_OUTCOME"

// Outcome is what one mediated call resolved to. Exactly one of the result
// fields is set on success; Err is set on failure.
type Outcome struct {
	Operation     string
	Token         *oauth.AccessToken
	Code          *oauth.AuthorizationCode
	Issued        *oauth.Token
	Introspection *grant.Introspection
	Err           error
}

// WithContext attaches the outcome to ctx.
func (o *Outcome) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, outcomeKey, o)
}

// FromContext returns the outcome attached by one of the Server middlewares.
func FromContext(ctx context.Context) (*Outcome, bool) {
	o, ok := ctx.Value(outcomeKey).(*Outcome)
	return o, ok
}

// Credentials is a view of an authenticated bearer.
type Credentials struct {
	UserID   string
	ClientID string
	Username string
	Scope    []string
}

// CredentialsFromContext returns who the request was authenticated as. It is
// false when Authenticate did not run or failed.
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	o, ok := FromContext(ctx)
	if !ok || o.Err != nil || o.Token == nil {
		return Credentials{}, false
	}
	c := Credentials{
		UserID:   o.Token.UserID,
		ClientID: o.Token.ClientID,
		Scope:    o.Token.Scope,
	}
	if o.Token.User != nil {
		c.UserID = o.Token.User.ID
		c.Username = o.Token.User.Username
	}
	if o.Token.Client != nil {
		c.ClientID = o.Token.Client.ID
	}
	return c, true
}
