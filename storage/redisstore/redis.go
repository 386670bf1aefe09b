// Package redisstore is an oauth.Storage backed by Redis. Records are stored
// as JSON values; tokens and codes carry a TTL matching their expiry.
package redisstore

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seann-Moser/oauthserver/oauth"
)

var (
	_ oauth.Storage       = &Store{}
	_ oauth.Registrar     = &Store{}
	_ oauth.ScopeVerifier = &Store{}
)

const DefaultKeyPrefix = "oauth:"

const (
	keyClient  = "client:"
	keyUser    = "user:"
	keyUserID  = "userid:"
	keyAccess  = "access:"
	keyRefresh = "refresh:"
	keyCode    = "code:"
)

// saveRetries bounds how often SaveToken retries after a concurrent write to
// one of its keys aborted the transaction.
const saveRetries = 3

type storedUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
}

type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock replaces time.Now for TTLs and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an existing client. The caller owns the client unless Close is called.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to the server described by a redis:// URL and pings it.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, opts...), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(kind, id string) string {
	return s.prefix + kind + id
}

// ttl is the time left until expiresAt, or 0 (no expiry) when it is zero or
// already past. Reads check expiry themselves, so a past record still reads
// as absent.
func (s *Store) ttl(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(s.now())
	if d <= 0 {
		return 0
	}
	return d
}

// getJSON decodes the value at key into v. It reports false when the key is absent.
func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) CreateClient(ctx context.Context, client *oauth.Client) error {
	if client == nil || client.ID == "" {
		return errors.New("create client: missing client id")
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("encode client: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyClient, client.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, username, password string) (*oauth.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	rec := storedUser{ID: uuid.NewString(), Username: username, Hash: hash}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(keyUser, username), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("create user %q: %w", username, oauth.ErrUserExists)
	}
	if err := s.client.Set(ctx, s.key(keyUserID, rec.ID), username, 0).Err(); err != nil {
		return nil, fmt.Errorf("index user: %w", err)
	}
	return &oauth.User{ID: rec.ID, Username: username}, nil
}

func (s *Store) GetClient(ctx context.Context, clientID, clientSecret string) (*oauth.Client, error) {
	var c oauth.Client
	ok, err := s.getJSON(ctx, s.key(keyClient, clientID), &c)
	if err != nil || !ok {
		return nil, err
	}
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(c.Secret), []byte(clientSecret)) != 1 {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) GetUser(ctx context.Context, username, password string) (*oauth.User, error) {
	var rec storedUser
	ok, err := s.getJSON(ctx, s.key(keyUser, username), &rec)
	if err != nil || !ok {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(rec.Hash, []byte(password)) != nil {
		return nil, nil
	}
	return &oauth.User{ID: rec.ID, Username: rec.Username}, nil
}

func (s *Store) GetUserFromClient(ctx context.Context, client *oauth.Client) (*oauth.User, error) {
	n, err := s.client.Exists(ctx, s.key(keyClient, client.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check client: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return oauth.ServiceUser(client), nil
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*oauth.AccessToken, error) {
	var at oauth.AccessToken
	key := s.key(keyAccess, token)
	ok, err := s.getJSON(ctx, key, &at)
	if err != nil || !ok {
		return nil, err
	}
	if at.Expired(s.now()) {
		_ = s.client.Del(ctx, key).Err()
		return nil, nil
	}
	if at.Client, at.User, err = s.resolve(ctx, at.ClientID, at.UserID); err != nil {
		return nil, err
	}
	return &at, nil
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*oauth.RefreshToken, error) {
	if token == "" {
		return nil, nil
	}
	var rt oauth.RefreshToken
	key := s.key(keyRefresh, token)
	ok, err := s.getJSON(ctx, key, &rt)
	if err != nil || !ok {
		return nil, err
	}
	if rt.Expired(s.now()) {
		_ = s.client.Del(ctx, key).Err()
		return nil, nil
	}
	if rt.Client, rt.User, err = s.resolve(ctx, rt.ClientID, rt.UserID); err != nil {
		return nil, err
	}
	return &rt, nil
}

// SaveToken writes both halves in one MULTI/EXEC, watching both keys so a
// concurrent writer of the same values aborts the transaction.
func (s *Store) SaveToken(ctx context.Context, token *oauth.Token, client *oauth.Client, user *oauth.User) (*oauth.Token, error) {
	stored := *token
	stored.Client, stored.User = client, user
	at := stored.Access()
	rt := stored.Refresh()

	accessData, err := json.Marshal(at)
	if err != nil {
		return nil, fmt.Errorf("encode access token: %w", err)
	}
	keys := []string{s.key(keyAccess, at.AccessToken)}
	var refreshData []byte
	if rt != nil {
		if refreshData, err = json.Marshal(rt); err != nil {
			return nil, fmt.Errorf("encode refresh token: %w", err)
		}
		keys = append(keys, s.key(keyRefresh, rt.RefreshToken))
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("save token: %w", oauth.ErrDuplicateToken)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keys[0], accessData, s.ttl(at.ExpiresAt))
			if rt != nil {
				pipe.Set(ctx, keys[1], refreshData, s.ttl(rt.ExpiresAt))
			}
			return nil
		})
		return err
	}

	for i := 0; i < saveRetries; i++ {
		err = s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, oauth.ErrDuplicateToken) {
			return nil, err
		}
		return nil, fmt.Errorf("save token: %w", err)
	}
	return &stored, nil
}

// RevokeToken deletes the refresh or access token with that value. DEL
// reports how many keys it removed, so only one caller can win.
func (s *Store) RevokeToken(ctx context.Context, token string) (bool, error) {
	for _, kind := range []string{keyRefresh, keyAccess} {
		n, err := s.client.Del(ctx, s.key(kind, token)).Result()
		if err != nil {
			return false, fmt.Errorf("revoke token: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *oauth.AuthorizationCode, client *oauth.Client, user *oauth.User) (*oauth.AuthorizationCode, error) {
	rec := *code
	if client != nil {
		rec.ClientID = client.ID
	}
	if user != nil {
		rec.UserID = user.ID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode authorization code: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(keyCode, rec.Code), data, s.ttl(rec.ExpiresAt)).Result()
	if err != nil {
		return nil, fmt.Errorf("save authorization code: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("save authorization code: %w", oauth.ErrDuplicateToken)
	}
	rec.Client, rec.User = client, user
	return &rec, nil
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	var rec oauth.AuthorizationCode
	key := s.key(keyCode, code)
	ok, err := s.getJSON(ctx, key, &rec)
	if err != nil || !ok {
		return nil, err
	}
	if rec.Expired(s.now()) {
		_ = s.client.Del(ctx, key).Err()
		return nil, nil
	}
	if rec.Client, rec.User, err = s.resolve(ctx, rec.ClientID, rec.UserID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(keyCode, code)).Result()
	if err != nil {
		return false, fmt.Errorf("revoke authorization code: %w", err)
	}
	return n > 0, nil
}

func (s *Store) VerifyScope(_ context.Context, token *oauth.AccessToken, scope []string) (bool, error) {
	return token.HasScope(scope), nil
}

// resolve loads the client and user a record refers to. Service users and
// unknown users come back with only their id set.
func (s *Store) resolve(ctx context.Context, clientID, userID string) (*oauth.Client, *oauth.User, error) {
	var client *oauth.Client
	var c oauth.Client
	ok, err := s.getJSON(ctx, s.key(keyClient, clientID), &c)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		client = &c
	}

	user := &oauth.User{ID: userID}
	username, err := s.client.Get(ctx, s.key(keyUserID, userID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return client, user, nil
	case err != nil:
		return nil, nil, fmt.Errorf("get user index: %w", err)
	}
	var rec storedUser
	if ok, err = s.getJSON(ctx, s.key(keyUser, username), &rec); err != nil {
		return nil, nil, err
	}
	if ok {
		user.Username = rec.Username
	}
	return client, user, nil
}
