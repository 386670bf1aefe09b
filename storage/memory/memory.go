// Package memory is an in-process oauth.Storage backed by maps. It is meant
// for tests, examples and single instance deployments.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seann-Moser/oauthserver/oauth"
)

var (
	_ oauth.Storage       = &Store{}
	_ oauth.Registrar     = &Store{}
	_ oauth.ScopeVerifier = &Store{}
)

type userRecord struct {
	user oauth.User
	hash []byte
}

// Store keeps every record in memory. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	clients map[string]oauth.Client
	users   map[string]userRecord // by username
	userIDs map[string]string     // id -> username
	access  map[string]oauth.AccessToken
	refresh map[string]oauth.RefreshToken
	codes   map[string]oauth.AuthorizationCode

	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		clients: map[string]oauth.Client{},
		users:   map[string]userRecord{},
		userIDs: map[string]string{},
		access:  map[string]oauth.AccessToken{},
		refresh: map[string]oauth.RefreshToken{},
		codes:   map[string]oauth.AuthorizationCode{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateClient(_ context.Context, client *oauth.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("create client: missing client id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = cloneClient(*client)
	return nil
}

func (s *Store) CreateUser(_ context.Context, username, password string) (*oauth.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return nil, fmt.Errorf("create user %q: %w", username, oauth.ErrUserExists)
	}
	u := oauth.User{ID: uuid.NewString(), Username: username}
	s.users[username] = userRecord{user: u, hash: hash}
	s.userIDs[u.ID] = username
	return &u, nil
}

func (s *Store) GetClient(_ context.Context, clientID, clientSecret string) (*oauth.Client, error) {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(c.Secret), []byte(clientSecret)) != 1 {
		return nil, nil
	}
	out := cloneClient(c)
	return &out, nil
}

func (s *Store) GetUser(_ context.Context, username, password string) (*oauth.User, error) {
	s.mu.RLock()
	rec, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword(rec.hash, []byte(password)) != nil {
		return nil, nil
	}
	u := rec.user
	return &u, nil
}

func (s *Store) GetUserFromClient(_ context.Context, client *oauth.Client) (*oauth.User, error) {
	s.mu.RLock()
	_, ok := s.clients[client.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return oauth.ServiceUser(client), nil
}

func (s *Store) GetAccessToken(_ context.Context, token string) (*oauth.AccessToken, error) {
	s.mu.RLock()
	at, ok := s.access[token]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if at.Expired(s.now()) {
		s.mu.Lock()
		delete(s.access, token)
		s.mu.Unlock()
		return nil, nil
	}
	at.Scope = cloneStrings(at.Scope)
	at.Client, at.User = s.resolve(at.ClientID, at.UserID)
	return &at, nil
}

func (s *Store) GetRefreshToken(_ context.Context, token string) (*oauth.RefreshToken, error) {
	s.mu.RLock()
	rt, ok := s.refresh[token]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if rt.Expired(s.now()) {
		s.mu.Lock()
		delete(s.refresh, token)
		s.mu.Unlock()
		return nil, nil
	}
	rt.Scope = cloneStrings(rt.Scope)
	rt.Client, rt.User = s.resolve(rt.ClientID, rt.UserID)
	return &rt, nil
}

// SaveToken stores both halves under one lock, after checking neither value is taken.
func (s *Store) SaveToken(_ context.Context, token *oauth.Token, client *oauth.Client, user *oauth.User) (*oauth.Token, error) {
	stored := *token
	stored.Client, stored.User = client, user
	stored.Scope = cloneStrings(token.Scope)
	at := stored.Access()
	rt := stored.Refresh()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.access[at.AccessToken]; ok {
		return nil, fmt.Errorf("save access token: %w", oauth.ErrDuplicateToken)
	}
	if rt != nil {
		if _, ok := s.refresh[rt.RefreshToken]; ok {
			return nil, fmt.Errorf("save refresh token: %w", oauth.ErrDuplicateToken)
		}
	}
	at.Client, at.User = nil, nil
	s.access[at.AccessToken] = *at
	if rt != nil {
		rt.Client, rt.User = nil, nil
		s.refresh[rt.RefreshToken] = *rt
	}
	return &stored, nil
}

// RevokeToken deletes the refresh or access token with that value.
func (s *Store) RevokeToken(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[token]; ok {
		delete(s.refresh, token)
		return true, nil
	}
	if _, ok := s.access[token]; ok {
		delete(s.access, token)
		return true, nil
	}
	return false, nil
}

func (s *Store) SaveAuthorizationCode(_ context.Context, code *oauth.AuthorizationCode, client *oauth.Client, user *oauth.User) (*oauth.AuthorizationCode, error) {
	rec := *code
	rec.Scope = cloneStrings(code.Scope)
	if client != nil {
		rec.ClientID = client.ID
	}
	if user != nil {
		rec.UserID = user.ID
	}
	rec.Client, rec.User = nil, nil

	s.mu.Lock()
	if _, ok := s.codes[rec.Code]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("save authorization code: %w", oauth.ErrDuplicateToken)
	}
	s.codes[rec.Code] = rec
	s.mu.Unlock()

	rec.Client, rec.User = client, user
	return &rec, nil
}

func (s *Store) GetAuthorizationCode(_ context.Context, code string) (*oauth.AuthorizationCode, error) {
	s.mu.RLock()
	rec, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if rec.Expired(s.now()) {
		s.mu.Lock()
		delete(s.codes, code)
		s.mu.Unlock()
		return nil, nil
	}
	rec.Scope = cloneStrings(rec.Scope)
	rec.Client, rec.User = s.resolve(rec.ClientID, rec.UserID)
	return &rec, nil
}

func (s *Store) RevokeAuthorizationCode(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return false, nil
	}
	delete(s.codes, code)
	return true, nil
}

func (s *Store) VerifyScope(_ context.Context, token *oauth.AccessToken, scope []string) (bool, error) {
	return token.HasScope(scope), nil
}

// resolve looks up the client and user a record refers to. Service users
// and unknown users are returned with only their id set.
func (s *Store) resolve(clientID, userID string) (*oauth.Client, *oauth.User) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var client *oauth.Client
	if c, ok := s.clients[clientID]; ok {
		cc := cloneClient(c)
		client = &cc
	}
	user := &oauth.User{ID: userID}
	if name, ok := s.userIDs[userID]; ok {
		u := s.users[name].user
		user = &u
	}
	return client, user
}

func cloneClient(c oauth.Client) oauth.Client {
	c.RedirectURIs = cloneStrings(c.RedirectURIs)
	c.Grants = cloneStrings(c.Grants)
	c.Scopes = cloneStrings(c.Scopes)
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
