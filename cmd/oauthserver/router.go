package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	oauthserver "github.com/Seann-Moser/oauthserver"
	"github.com/Seann-Moser/oauthserver/oauth/grant"
	"github.com/Seann-Moser/oauthserver/session"
)

const requestIDHeader = "X-Request-Id"

// pinger is implemented by the networked backends.
type pinger interface {
	Ping(ctx context.Context) error
}

// newRouter mounts the OAuth endpoints. With a nil sessions manager the
// authorize endpoint expects the resource owner's bearer token.
func newRouter(srv *oauthserver.Server, sessions *session.Manager, store any, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	var authorizeOpts *grant.AuthorizeOptions
	if sessions != nil {
		authorizeOpts = &grant.AuthorizeOptions{AuthenticateHandler: sessions.AuthenticateHandler()}
		r.Post("/login", sessions.Login)
		r.Post("/logout", sessions.Logout)
	}
	authorize := oauthserver.Handler(srv.Authorize(authorizeOpts))

	r.Route("/oauth", func(r chi.Router) {
		r.Method(http.MethodGet, "/authorize", authorize)
		r.Method(http.MethodPost, "/authorize", authorize)
		r.Method(http.MethodPost, "/token", oauthserver.Handler(srv.Token(nil)))
		r.Method(http.MethodPost, "/revoke", oauthserver.Handler(srv.Revoke()))
		r.Method(http.MethodPost, "/introspect", oauthserver.Handler(srv.Introspect()))
	})
	r.With(srv.Authenticate(nil)).Get("/secret", secret)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", health(store, logger))
	return r
}

// health reports 503 while a networked backend is unreachable.
func health(store any, logger *slog.Logger) http.HandlerFunc {
	p, ok := store.(pinger)
	return func(w http.ResponseWriter, r *http.Request) {
		if ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				logger.WarnContext(r.Context(), "backend ping failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// secret is a sample protected resource.
func secret(w http.ResponseWriter, r *http.Request) {
	creds, ok := oauthserver.CredentialsFromContext(r.Context())
	if !ok {
		// the error response has already been written
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id":   creds.UserID,
		"username":  creds.Username,
		"client_id": creds.ClientID,
		"scope":     creds.Scope,
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
