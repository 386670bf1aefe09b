package grant

import (
	"context"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
)

// Engine runs the OAuth2 algorithms behind the three mediated entry points.
// Implementations write headers, status and success bodies to res; errors are
// returned as *oauth.Error and never written to res.
type Engine interface {
	Authenticate(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthenticateOptions) (*oauth.AccessToken, error)
	Authorize(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *AuthorizeOptions) (*oauth.AuthorizationCode, error)
	Token(ctx context.Context, req *oauth.Request, res *oauth.Response, opts *TokenOptions) (*oauth.Token, error)

	Revoke(ctx context.Context, req *oauth.Request, res *oauth.Response) error
	Introspect(ctx context.Context, req *oauth.Request, res *oauth.Response) (*Introspection, error)
}

var _ Engine = &Server{}

// Server is the default Engine, backed by an oauth.Model.
type Server struct {
	model oauth.Model
	opts  Options
}

// NewServer returns an engine for model. Missing model methods are reported
// when an operation that needs them is invoked.
func NewServer(model oauth.Model, opts Options) (*Server, error) {
	if model == nil {
		return nil, oauth.InvalidArgument("Missing parameter: `model`")
	}
	return &Server{model: model, opts: opts.withDefaults()}, nil
}

func (s *Server) now() time.Time {
	return s.opts.Now()
}

func missingMethod(name string) *oauth.Error {
	return oauth.InvalidArgument("Invalid argument: model does not implement `" + name + "()`")
}
