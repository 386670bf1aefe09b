package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Error is an OAuth2 protocol error. Name is the machine readable error code
// written to the "error" field; Code is the HTTP status.
type Error struct {
	Name        string
	Description string
	Code        int
	// RedirectURI is set by the grant engine when the error has to be reported by
	// redirecting back to the client, i.e. once the redirect URI has been validated.
	RedirectURI *url.URL

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Name
	}
	return e.Description
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same Name, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Name == e.Name
}

// WithRedirect returns a copy of e reported through uri.
func (e *Error) WithRedirect(uri *url.URL) *Error {
	c := *e
	c.RedirectURI = uri
	return &c
}

// WithCode returns a copy of e with a different HTTP status.
func (e *Error) WithCode(code int) *Error {
	c := *e
	c.Code = code
	return &c
}

var (
	ErrAccessDenied            = &Error{Name: "access_denied", Code: http.StatusBadRequest}
	ErrInsufficientScope       = &Error{Name: "insufficient_scope", Code: http.StatusForbidden}
	ErrInvalidArgument         = &Error{Name: "invalid_argument", Code: http.StatusInternalServerError}
	ErrInvalidClient           = &Error{Name: "invalid_client", Code: http.StatusBadRequest}
	ErrInvalidGrant            = &Error{Name: "invalid_grant", Code: http.StatusBadRequest}
	ErrInvalidRequest          = &Error{Name: "invalid_request", Code: http.StatusBadRequest}
	ErrInvalidScope            = &Error{Name: "invalid_scope", Code: http.StatusBadRequest}
	ErrInvalidToken            = &Error{Name: "invalid_token", Code: http.StatusUnauthorized}
	ErrServerError             = &Error{Name: "server_error", Code: http.StatusServiceUnavailable}
	ErrUnauthorizedClient      = &Error{Name: "unauthorized_client", Code: http.StatusBadRequest}
	ErrUnauthorizedRequest     = &Error{Name: "unauthorized_request", Code: http.StatusUnauthorized}
	ErrUnsupportedGrantType    = &Error{Name: "unsupported_grant_type", Code: http.StatusBadRequest}
	ErrUnsupportedResponseType = &Error{Name: "unsupported_response_type", Code: http.StatusBadRequest}
)

// ErrDuplicateToken is returned by backends when a token or code value is already taken.
var ErrDuplicateToken = errors.New("oauth: token already exists")

// ErrUserExists is returned by Registrar.CreateUser for a taken username.
var ErrUserExists = errors.New("oauth: user already exists")

func newError(base *Error, description string) *Error {
	return &Error{Name: base.Name, Code: base.Code, Description: description}
}

func AccessDenied(description string) *Error { return newError(ErrAccessDenied, description) }
func InsufficientScope(description string) *Error {
	return newError(ErrInsufficientScope, description)
}
func InvalidArgument(description string) *Error { return newError(ErrInvalidArgument, description) }
func InvalidClient(description string) *Error   { return newError(ErrInvalidClient, description) }
func InvalidGrant(description string) *Error    { return newError(ErrInvalidGrant, description) }
func InvalidRequest(description string) *Error  { return newError(ErrInvalidRequest, description) }
func InvalidScope(description string) *Error    { return newError(ErrInvalidScope, description) }
func InvalidToken(description string) *Error    { return newError(ErrInvalidToken, description) }
func UnauthorizedClient(description string) *Error {
	return newError(ErrUnauthorizedClient, description)
}
func UnauthorizedRequest(description string) *Error {
	return newError(ErrUnauthorizedRequest, description)
}
func UnsupportedGrantType(description string) *Error {
	return newError(ErrUnsupportedGrantType, description)
}
func UnsupportedResponseType(description string) *Error {
	return newError(ErrUnsupportedResponseType, description)
}

// ServerError wraps an unexpected failure. The cause is kept for logging and
// errors.Is/As, but never becomes part of the description sent to clients.
func ServerError(cause error) *Error {
	e := newError(ErrServerError, "Server error: unexpected failure")
	e.cause = cause
	return e
}

// ServerErrorf reports a misbehaving backend or engine configuration.
func ServerErrorf(format string, args ...any) *Error {
	return newError(ErrServerError, fmt.Sprintf(format, args...))
}

// AsError converts any error into an *Error, wrapping foreign errors as server errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ServerError(err)
}
