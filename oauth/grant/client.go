package grant

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Seann-Moser/oauthserver/oauth"
)

type clientCredentials struct {
	id, secret string
	basic      bool
}

// credentialsFromRequest reads client credentials from HTTP Basic auth or,
// failing that, from the form body (RFC 6749 §2.3.1).
func credentialsFromRequest(req *oauth.Request) clientCredentials {
	if id, secret, ok := parseBasicAuth(req.Get("Authorization")); ok {
		return clientCredentials{id: id, secret: secret, basic: true}
	}
	return clientCredentials{id: req.Body.Get("client_id"), secret: req.Body.Get("client_secret")}
}

func parseBasicAuth(header string) (id, secret string, ok bool) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	id, secret, ok = strings.Cut(string(raw), ":")
	if !ok {
		return "", "", false
	}
	// RFC 6749 §2.3.1: both parts are form-urlencoded before being combined.
	if v, err := url.QueryUnescape(id); err == nil {
		id = v
	}
	if v, err := url.QueryUnescape(secret); err == nil {
		secret = v
	}
	return id, secret, true
}

// authenticateClient resolves the confidential client behind req. Failures
// raised while Basic auth was used are reported as 401 with a Basic challenge.
func (s *Server) authenticateClient(ctx context.Context, req *oauth.Request, res *oauth.Response, requireSecret bool) (*oauth.Client, error) {
	store, ok := s.model.(oauth.ClientStore)
	if !ok {
		return nil, missingMethod("GetClient")
	}
	creds := credentialsFromRequest(req)
	client, err := s.lookupClient(ctx, store, creds, requireSecret)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidClient) && creds.basic {
			res.Set("WWW-Authenticate", `Basic realm="Service"`)
			return nil, oauth.AsError(err).WithCode(http.StatusUnauthorized)
		}
		return nil, err
	}
	return client, nil
}

func (s *Server) lookupClient(ctx context.Context, store oauth.ClientStore, creds clientCredentials, requireSecret bool) (*oauth.Client, error) {
	if creds.id == "" || (requireSecret && creds.secret == "") {
		return nil, oauth.InvalidClient("Invalid client: cannot retrieve client credentials")
	}
	if !isVSChar(creds.id) {
		return nil, oauth.InvalidRequest("Invalid parameter: `client_id`")
	}
	if creds.secret != "" && !isVSChar(creds.secret) {
		return nil, oauth.InvalidRequest("Invalid parameter: `client_secret`")
	}

	client, err := store.GetClient(ctx, creds.id, creds.secret)
	if err != nil {
		return nil, oauth.AsError(err)
	}
	if client == nil {
		return nil, oauth.InvalidClient("Invalid client: client is invalid")
	}
	if len(client.Grants) == 0 {
		return nil, oauth.ServerErrorf("Server error: missing client `grants`")
	}
	return client, nil
}
