package grant

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// TokenResponse is the success body of the token endpoint (RFC 6749 §5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// Extra attributes are merged into the top level object.
	Extra map[string]any `json:"-"`
}

// NewTokenResponse renders token as seen at now. Extra attributes are only
// kept when extended is true.
func NewTokenResponse(token *oauth.Token, extended bool, now time.Time) *TokenResponse {
	r := &TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    TokenTypeBearer,
		RefreshToken: token.RefreshToken,
		Scope:        strings.Join(token.Scope, " "),
	}
	if !token.AccessTokenExpiresAt.IsZero() {
		r.ExpiresIn = int64(math.Floor(token.AccessTokenExpiresAt.Sub(now).Seconds()))
		if r.ExpiresIn < 0 {
			r.ExpiresIn = 0
		}
	}
	if extended && len(token.Extra) > 0 {
		r.Extra = token.Extra
	}
	return r
}

func (r TokenResponse) MarshalJSON() ([]byte, error) {
	type plain TokenResponse
	data, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return data, err
	}
	out := map[string]any{}
	for k, v := range r.Extra {
		out[k] = v
	}
	// standard fields win over extra attributes of the same name
	var std map[string]any
	if err := json.Unmarshal(data, &std); err != nil {
		return nil, err
	}
	for k, v := range std {
		out[k] = v
	}
	return json.Marshal(out)
}

// Introspection is the body of a token introspection response (RFC 7662 §2.2).
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	Subject   string `json:"sub,omitempty"`
}
