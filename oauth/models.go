package oauth

import "time"

type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypePassword          GrantType = "password"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// Client is a registered OAuth2 client application.
type Client struct {
	ID           string   `json:"client_id" bson:"client_id"`
	Secret       string   `json:"client_secret,omitempty" bson:"client_secret"`
	RedirectURIs []string `json:"redirect_uris" bson:"redirect_uris"`
	Grants       []string `json:"grants" bson:"grants"`
	Scopes       []string `json:"scopes,omitempty" bson:"scopes"`
	// optional per-client overrides of the engine lifetimes
	AccessTokenLifetime  time.Duration `json:"access_token_lifetime,omitempty" bson:"access_token_lifetime"`
	RefreshTokenLifetime time.Duration `json:"refresh_token_lifetime,omitempty" bson:"refresh_token_lifetime"`
}

// HasGrant reports whether the client may use the named grant type.
func (c *Client) HasGrant(grant string) bool {
	for _, g := range c.Grants {
		if g == grant {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// User is a resource owner. The core only carries its identifier around.
type User struct {
	ID       string `json:"id" bson:"user_id"`
	Username string `json:"username,omitempty" bson:"username"`
}

// AccessToken is a persisted bearer token.
type AccessToken struct {
	AccessToken string    `json:"access_token" bson:"access_token"`
	ExpiresAt   time.Time `json:"expires_at" bson:"expires_at"`
	Scope       []string  `json:"scope,omitempty" bson:"scope"`
	ClientID    string    `json:"client_id" bson:"client_id"`
	UserID      string    `json:"user_id" bson:"user_id"`

	Client *Client `json:"-" bson:"-"`
	User   *User   `json:"-" bson:"-"`
}

// Expired reports whether the token is no longer valid at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type RefreshToken struct {
	RefreshToken string    `json:"refresh_token" bson:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" bson:"expires_at"`
	Scope        []string  `json:"scope,omitempty" bson:"scope"`
	ClientID     string    `json:"client_id" bson:"client_id"`
	UserID       string    `json:"user_id" bson:"user_id"`

	Client *Client `json:"-" bson:"-"`
	User   *User   `json:"-" bson:"-"`
}

func (t *RefreshToken) Expired(now time.Time) bool {
	// a zero expiry means the refresh token never expires
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// AuthorizationCode is a short-lived, single-use grant minted by the authorize endpoint.
type AuthorizationCode struct {
	Code                string    `json:"code" bson:"code"`
	ExpiresAt           time.Time `json:"expires_at" bson:"expires_at"`
	RedirectURI         string    `json:"redirect_uri" bson:"redirect_uri"`
	Scope               []string  `json:"scope,omitempty" bson:"scope"`
	ClientID            string    `json:"client_id" bson:"client_id"`
	UserID              string    `json:"user_id" bson:"user_id"`
	CodeChallenge       string    `json:"code_challenge,omitempty" bson:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty" bson:"code_challenge_method"`

	Client *Client `json:"-" bson:"-"`
	User   *User   `json:"-" bson:"-"`
}

func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Token is the access token, and optionally the refresh token, issued by one grant.
type Token struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Scope                 []string
	Client                *Client
	User                  *User
	// Extra holds extended token attributes returned by a backend. They are only
	// written to the token response when the engine allows extended attributes.
	Extra map[string]any
}

// Access returns the access half of the token as a storable record.
func (t *Token) Access() *AccessToken {
	at := &AccessToken{
		AccessToken: t.AccessToken,
		ExpiresAt:   t.AccessTokenExpiresAt,
		Scope:       t.Scope,
		Client:      t.Client,
		User:        t.User,
	}
	if t.Client != nil {
		at.ClientID = t.Client.ID
	}
	if t.User != nil {
		at.UserID = t.User.ID
	}
	return at
}

// Refresh returns the refresh half of the token, or nil when none was issued.
func (t *Token) Refresh() *RefreshToken {
	if t.RefreshToken == "" {
		return nil
	}
	rt := &RefreshToken{
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.RefreshTokenExpiresAt,
		Scope:        t.Scope,
		Client:       t.Client,
		User:         t.User,
	}
	if t.Client != nil {
		rt.ClientID = t.Client.ID
	}
	if t.User != nil {
		rt.UserID = t.User.ID
	}
	return rt
}

// ServiceUserPrefix marks users synthesized for the client_credentials grant.
const ServiceUserPrefix = "service-"

// ServiceUser returns the user a client acts as under the client_credentials grant.
func ServiceUser(client *Client) *User {
	return &User{ID: ServiceUserPrefix + client.ID, Username: client.ID}
}

// HasScope reports whether the token was granted every scope in required.
func (t *AccessToken) HasScope(required []string) bool {
	for _, r := range required {
		found := false
		for _, s := range t.Scope {
			if s == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
