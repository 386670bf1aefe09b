// Package session keeps the resource owner logged in between the login form
// and the authorize endpoint, using an HMAC signed cookie.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/oauth/grant"
)

type Manager struct {
	secret []byte
	ttl    time.Duration
	users  oauth.UserStore
	secure bool
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

// WithInsecureCookies drops the Secure attribute, for plain HTTP development setups.
func WithInsecureCookies() Option {
	return func(m *Manager) { m.secure = false }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager checks passwords against users and signs cookies with secret.
func NewManager(secret []byte, ttl time.Duration, users oauth.UserStore, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: empty secret")
	}
	if users == nil {
		return nil, errors.New("session: missing user store")
	}
	m := &Manager{
		secret: secret,
		ttl:    ttl,
		users:  users,
		secure: true,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Set writes a session cookie for user.
func (m *Manager) Set(w http.ResponseWriter, user *oauth.User) error {
	expires := m.now().Add(m.ttl)
	value, err := encode(&Data{UserID: user.ID, Username: user.Username, ExpiresAt: expires.Unix()}, m.secret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Get returns the session attached to r.
func (m *Manager) Get(r *http.Request) (*Data, error) {
	return readCookie(r.Header, m.secret, m.now())
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// AuthenticateHandler resolves the resource owner on the authorize endpoint
// from the session cookie. Requests without a valid session are denied.
func (m *Manager) AuthenticateHandler() grant.AuthenticateFunc {
	return func(ctx context.Context, req *oauth.Request, _ *oauth.Response) (*oauth.User, error) {
		d, err := readCookie(req.Headers, m.secret, m.now())
		if err != nil {
			m.logger.DebugContext(ctx, "authorize without session", "error", err)
			return nil, oauth.AccessDenied("Access denied: user is not logged in")
		}
		return &oauth.User{ID: d.UserID, Username: d.Username}, nil
	}
}

// Login handles POSTed username and password form fields. On success it sets
// the cookie and redirects to return_to, which must be a local path.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	user, err := m.users.GetUser(r.Context(), username, password)
	if err != nil {
		m.logger.ErrorContext(r.Context(), "login lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := m.Set(w, user); err != nil {
		m.logger.ErrorContext(r.Context(), "set session cookie", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if target := r.PostForm.Get("return_to"); localPath(target) {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Manager) Logout(w http.ResponseWriter, _ *http.Request) {
	m.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// localPath reports whether target stays on this host.
func localPath(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}
