// Package sqlstore is an oauth.Storage on database/sql. PostgreSQL (through
// pgx) and MySQL are supported; they differ only in placeholders and in how
// a unique violation is reported.
package sqlstore

import (
	"context"
	"crypto/subtle"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seann-Moser/oauthserver/oauth"
)

var (
	_ oauth.Storage       = &Store{}
	_ oauth.Registrar     = &Store{}
	_ oauth.ScopeVerifier = &Store{}
)

//go:embed schema.sql
var schema string

// Dialect describes the driver specific bits of SQL.
type Dialect struct {
	Driver string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
}

var (
	Postgres = Dialect{Driver: "pgx", numbered: true}
	MySQL    = Dialect{Driver: "mysql"}
)

// DialectFor returns the dialect registered under a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

type Store struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, d: d, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with the named driver and pings the database.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", d.Driver, err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Driver, err)
	}
	return New(db, d, opts...), nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func joinList(v []string) string { return strings.Join(v, " ") }

func splitList(v string) []string {
	f := strings.Fields(v)
	if len(f) == 0 {
		return nil
	}
	return f
}

func (s *Store) CreateClient(ctx context.Context, client *oauth.Client) error {
	if client == nil || client.ID == "" {
		return errors.New("create client: missing client id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM oauth_clients WHERE id = ?`), client.ID); err != nil {
		return fmt.Errorf("replace client: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind(`
		INSERT INTO oauth_clients (id, secret, redirect_uris, grants, scopes, access_token_lifetime, refresh_token_lifetime)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		client.ID, client.Secret, joinList(client.RedirectURIs), joinList(client.Grants), joinList(client.Scopes),
		client.AccessTokenLifetime.Milliseconds(), client.RefreshTokenLifetime.Milliseconds(),
	); err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, username, password string) (*oauth.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &oauth.User{ID: uuid.NewString(), Username: username}
	if _, err := s.exec(ctx, `INSERT INTO oauth_users (id, username, password_hash) VALUES (?, ?, ?)`, u.ID, username, string(hash)); err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("create user %q: %w", username, oauth.ErrUserExists)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) getClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	c := oauth.Client{ID: clientID}
	var uris, grants, sc string
	var accessMs, refreshMs int64
	err := s.queryRow(ctx, `
		SELECT secret, redirect_uris, grants, scopes, access_token_lifetime, refresh_token_lifetime
		FROM oauth_clients WHERE id = ?`, clientID,
	).Scan(&c.Secret, &uris, &grants, &sc, &accessMs, &refreshMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	c.RedirectURIs = splitList(uris)
	c.Grants = splitList(grants)
	c.Scopes = splitList(sc)
	c.AccessTokenLifetime = time.Duration(accessMs) * time.Millisecond
	c.RefreshTokenLifetime = time.Duration(refreshMs) * time.Millisecond
	return &c, nil
}

func (s *Store) GetClient(ctx context.Context, clientID, clientSecret string) (*oauth.Client, error) {
	c, err := s.getClient(ctx, clientID)
	if err != nil || c == nil {
		return nil, err
	}
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(c.Secret), []byte(clientSecret)) != 1 {
		return nil, nil
	}
	return c, nil
}

func (s *Store) GetUser(ctx context.Context, username, password string) (*oauth.User, error) {
	var id, hash string
	err := s.queryRow(ctx, `SELECT id, password_hash FROM oauth_users WHERE username = ?`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, nil
	}
	return &oauth.User{ID: id, Username: username}, nil
}

func (s *Store) GetUserFromClient(ctx context.Context, client *oauth.Client) (*oauth.User, error) {
	c, err := s.getClient(ctx, client.ID)
	if err != nil || c == nil {
		return nil, err
	}
	return oauth.ServiceUser(c), nil
}

// tokenRow is the shared shape of the access and refresh token tables.
type tokenRow struct {
	expiresAt int64
	scope     string
	clientID  string
	userID    string
}

func (s *Store) getTokenRow(ctx context.Context, table, token string) (*tokenRow, error) {
	var r tokenRow
	err := s.queryRow(ctx, `SELECT expires_at, scope, client_id, user_id FROM `+table+` WHERE token = ?`, token).
		Scan(&r.expiresAt, &r.scope, &r.clientID, &r.userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token from %s: %w", table, err)
	}
	return &r, nil
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*oauth.AccessToken, error) {
	r, err := s.getTokenRow(ctx, "oauth_access_tokens", token)
	if err != nil || r == nil {
		return nil, err
	}
	at := &oauth.AccessToken{
		AccessToken: token,
		ExpiresAt:   fromMillis(r.expiresAt),
		Scope:       splitList(r.scope),
		ClientID:    r.clientID,
		UserID:      r.userID,
	}
	if at.Expired(s.now()) {
		_, _ = s.exec(ctx, `DELETE FROM oauth_access_tokens WHERE token = ?`, token)
		return nil, nil
	}
	if at.Client, at.User, err = s.resolve(ctx, r.clientID, r.userID); err != nil {
		return nil, err
	}
	return at, nil
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*oauth.RefreshToken, error) {
	if token == "" {
		return nil, nil
	}
	r, err := s.getTokenRow(ctx, "oauth_refresh_tokens", token)
	if err != nil || r == nil {
		return nil, err
	}
	rt := &oauth.RefreshToken{
		RefreshToken: token,
		ExpiresAt:    fromMillis(r.expiresAt),
		Scope:        splitList(r.scope),
		ClientID:     r.clientID,
		UserID:       r.userID,
	}
	if rt.Expired(s.now()) {
		_, _ = s.exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE token = ?`, token)
		return nil, nil
	}
	if rt.Client, rt.User, err = s.resolve(ctx, r.clientID, r.userID); err != nil {
		return nil, err
	}
	return rt, nil
}

// SaveToken inserts both halves in one transaction; the primary keys reject
// a value that is already taken.
func (s *Store) SaveToken(ctx context.Context, token *oauth.Token, client *oauth.Client, user *oauth.User) (*oauth.Token, error) {
	stored := *token
	stored.Client, stored.User = client, user
	at := stored.Access()
	rt := stored.Refresh()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `INSERT INTO %s (token, expires_at, scope, client_id, user_id) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, s.d.rebind(fmt.Sprintf(insert, "oauth_access_tokens")),
		at.AccessToken, millis(at.ExpiresAt), joinList(at.Scope), at.ClientID, at.UserID); err != nil {
		return nil, saveError("access token", err)
	}
	if rt != nil {
		if _, err := tx.ExecContext(ctx, s.d.rebind(fmt.Sprintf(insert, "oauth_refresh_tokens")),
			rt.RefreshToken, millis(rt.ExpiresAt), joinList(rt.Scope), rt.ClientID, rt.UserID); err != nil {
			return nil, saveError("refresh token", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return &stored, nil
}

func saveError(what string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("save %s: %w", what, oauth.ErrDuplicateToken)
	}
	return fmt.Errorf("save %s: %w", what, err)
}

// RevokeToken deletes the refresh or access token with that value. Only the
// caller whose DELETE affected the row reports true.
func (s *Store) RevokeToken(ctx context.Context, token string) (bool, error) {
	for _, table := range []string{"oauth_refresh_tokens", "oauth_access_tokens"} {
		ok, err := s.deleteOne(ctx, `DELETE FROM `+table+` WHERE token = ?`, token)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (s *Store) deleteOne(ctx context.Context, query string, arg string) (bool, error) {
	res, err := s.exec(ctx, query, arg)
	if err != nil {
		return false, fmt.Errorf("revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *oauth.AuthorizationCode, client *oauth.Client, user *oauth.User) (*oauth.AuthorizationCode, error) {
	rec := *code
	if client != nil {
		rec.ClientID = client.ID
	}
	if user != nil {
		rec.UserID = user.ID
	}
	if _, err := s.exec(ctx, `
		INSERT INTO oauth_authorization_codes
			(code, expires_at, redirect_uri, scope, client_id, user_id, code_challenge, code_challenge_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Code, millis(rec.ExpiresAt), rec.RedirectURI, joinList(rec.Scope), rec.ClientID, rec.UserID,
		rec.CodeChallenge, rec.CodeChallengeMethod,
	); err != nil {
		return nil, saveError("authorization code", err)
	}
	rec.Client, rec.User = client, user
	return &rec, nil
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	rec := oauth.AuthorizationCode{Code: code}
	var expiresAt int64
	var scope string
	err := s.queryRow(ctx, `
		SELECT expires_at, redirect_uri, scope, client_id, user_id, code_challenge, code_challenge_method
		FROM oauth_authorization_codes WHERE code = ?`, code,
	).Scan(&expiresAt, &rec.RedirectURI, &scope, &rec.ClientID, &rec.UserID, &rec.CodeChallenge, &rec.CodeChallengeMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.Scope = splitList(scope)
	if rec.Expired(s.now()) {
		_, _ = s.exec(ctx, `DELETE FROM oauth_authorization_codes WHERE code = ?`, code)
		return nil, nil
	}
	if rec.Client, rec.User, err = s.resolve(ctx, rec.ClientID, rec.UserID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	return s.deleteOne(ctx, `DELETE FROM oauth_authorization_codes WHERE code = ?`, code)
}

func (s *Store) VerifyScope(_ context.Context, token *oauth.AccessToken, scope []string) (bool, error) {
	return token.HasScope(scope), nil
}

func (s *Store) resolve(ctx context.Context, clientID, userID string) (*oauth.Client, *oauth.User, error) {
	client, err := s.getClient(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	user := &oauth.User{ID: userID}
	err = s.queryRow(ctx, `SELECT username FROM oauth_users WHERE id = ?`, userID).Scan(&user.Username)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	return client, user, nil
}
