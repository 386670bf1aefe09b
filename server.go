// Package oauthserver mediates OAuth2 (RFC 6749) for net/http servers. It turns
// incoming requests into protocol neutral oauth.Request values, runs them
// through a grant engine and writes the outcome back as RFC conformant HTTP.
package oauthserver

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/oauth/grant"
)

// ErrorHandler receives failures when Options.UseErrorHandler is set.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type Options struct {
	// Model is the storage backend. Required.
	Model oauth.Model

	// UseErrorHandler hands failures to ErrorHandler instead of writing them.
	UseErrorHandler bool
	ErrorHandler    ErrorHandler

	// ContinueMiddleware lets the next handler run after a successful
	// authorize or token call. The outcome is available through FromContext.
	ContinueMiddleware bool

	// Engine replaces the default grant engine built from Model and Grant.
	Engine grant.Engine
	Grant  grant.Options

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Server holds only configuration; it is safe for concurrent use.
type Server struct {
	engine             grant.Engine
	useErrorHandler    bool
	errorHandler       ErrorHandler
	continueMiddleware bool
	logger             *slog.Logger
	metrics            *metrics
}

func New(opts Options) (*Server, error) {
	if opts.Model == nil {
		return nil, oauth.InvalidArgument("Missing parameter: `model`")
	}
	if opts.UseErrorHandler && opts.ErrorHandler == nil {
		return nil, oauth.InvalidArgument("Missing parameter: `ErrorHandler`")
	}

	engine := opts.Engine
	if engine == nil {
		srv, err := grant.NewServer(opts.Model, opts.Grant)
		if err != nil {
			return nil, err
		}
		engine = srv
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	return &Server{
		engine:             engine,
		useErrorHandler:    opts.UseErrorHandler,
		errorHandler:       opts.ErrorHandler,
		continueMiddleware: opts.ContinueMiddleware,
		logger:             logger.With("component", "oauthserver"),
		metrics:            m,
	}, nil
}
