package oauthserver

import (
	"context"
	"net/http"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/oauth/grant"
)

const (
	opAuthenticate = "authenticate"
	opAuthorize    = "authorize"
	opToken        = "token"
	opRevoke       = "revoke"
	opIntrospect   = "introspect"
)

type engineCall func(ctx context.Context, req *oauth.Request, res *oauth.Response, out *Outcome) error

// Authenticate validates the bearer token of each request. The next handler
// always runs: on success its context carries the token, on failure the
// error has already been written and Outcome.Err is set, so the handler
// should return without writing. With UseErrorHandler the failure goes to
// the ErrorHandler instead and next is not called.
func (s *Server) Authenticate(opts *grant.AuthenticateOptions) func(http.Handler) http.Handler {
	call := func(ctx context.Context, req *oauth.Request, res *oauth.Response, out *Outcome) error {
		token, err := s.engine.Authenticate(ctx, req, res, opts)
		out.Token = token
		return err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out, res, err := s.run(r, opAuthenticate, call)
			r = r.WithContext(out.WithContext(r.Context()))
			if err != nil {
				s.handleError(w, r, res, err)
				if s.useErrorHandler {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize issues authorization codes. The response is written here; the
// next handler only runs after a success and only with ContinueMiddleware.
func (s *Server) Authorize(opts *grant.AuthorizeOptions) func(http.Handler) http.Handler {
	return s.mediate(opAuthorize, func(ctx context.Context, req *oauth.Request, res *oauth.Response, out *Outcome) error {
		code, err := s.engine.Authorize(ctx, req, res, opts)
		out.Code = code
		return err
	})
}

// Token issues access tokens, with the same continuation rules as Authorize.
func (s *Server) Token(opts *grant.TokenOptions) func(http.Handler) http.Handler {
	return s.mediate(opToken, func(ctx context.Context, req *oauth.Request, res *oauth.Response, out *Outcome) error {
		token, err := s.engine.Token(ctx, req, res, opts)
		out.Issued = token
		return err
	})
}

func (s *Server) Revoke() func(http.Handler) http.Handler {
	return s.mediate(opRevoke, func(ctx context.Context, req *oauth.Request, res *oauth.Response, _ *Outcome) error {
		return s.engine.Revoke(ctx, req, res)
	})
}

func (s *Server) Introspect() func(http.Handler) http.Handler {
	return s.mediate(opIntrospect, func(ctx context.Context, req *oauth.Request, res *oauth.Response, out *Outcome) error {
		in, err := s.engine.Introspect(ctx, req, res)
		out.Introspection = in
		return err
	})
}

// Handler turns one of the Server middlewares into a terminal endpoint, for
// routers that expect a http.Handler.
func Handler(mw func(http.Handler) http.Handler) http.Handler {
	return mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
}

func (s *Server) mediate(op string, call engineCall) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out, res, err := s.run(r, op, call)
			r = r.WithContext(out.WithContext(r.Context()))
			if err != nil {
				s.handleError(w, r, res, err)
				return
			}
			s.handleResponse(w, r, res)
			if s.continueMiddleware {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// run snapshots r, invokes the engine and records the result.
func (s *Server) run(r *http.Request, op string, call engineCall) (*Outcome, *oauth.Response, error) {
	start := time.Now()
	out := &Outcome{Operation: op}
	res := oauth.NewResponse()

	req, err := oauth.NewRequest(r)
	if err == nil {
		err = call(r.Context(), req, res, out)
	}
	out.Err = err
	s.record(r.Context(), op, err, start)
	return out, res, err
}
