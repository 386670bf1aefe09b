package oauthserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// handleResponse writes a successful outcome: a redirect when the engine set
// one, otherwise status, headers and JSON body.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request, res *oauth.Response) {
	if err := res.WriteTo(w, r); err != nil {
		s.logger.ErrorContext(r.Context(), "write oauth response", "err", err)
	}
}

// handleError writes a failed outcome, or hands it to the ErrorHandler
// untouched. Headers gathered before the failure are kept. Errors carrying a
// redirect URI are reported by redirecting back to the client.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, res *oauth.Response, err error) {
	if s.useErrorHandler {
		s.errorHandler(w, r, err)
		return
	}
	if res == nil {
		res = oauth.NewResponse()
	}
	oe := oauth.AsError(err)

	res.Body = nil
	res.RedirectTarget = nil
	switch {
	case oe.RedirectURI != nil:
		res.Redirect(oe.RedirectURI)
	case errors.Is(oe, oauth.ErrUnauthorizedRequest):
		// RFC 6750 §3.1: no error information without credentials
		res.Status = oe.Code
	default:
		res.Status = oe.Code
		res.Body = errorBody{Error: oe.Name, ErrorDescription: oe.Description}
	}
	if err := res.WriteTo(w, r); err != nil {
		s.logger.ErrorContext(r.Context(), "write oauth error", "err", err)
	}
}

func (s *Server) record(ctx context.Context, op string, err error, start time.Time) {
	if err == nil {
		s.metrics.observe(op, "success", start)
		s.logger.DebugContext(ctx, "oauth request mediated", "operation", op)
		return
	}
	oe := oauth.AsError(err)
	s.metrics.observe(op, oe.Name, start)
	if oe.Code >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "oauth request failed", "operation", op, "error", oe.Name, "err", err, "cause", errors.Unwrap(oe))
		return
	}
	s.logger.InfoContext(ctx, "oauth request rejected", "operation", op, "error", oe.Name, "description", oe.Description)
}
