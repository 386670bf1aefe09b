// Package mongostore is an oauth.Storage backed by MongoDB, one collection per
// record kind.
package mongostore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seann-Moser/oauthserver/oauth"
)

var (
	_ oauth.Storage       = &Store{}
	_ oauth.Registrar     = &Store{}
	_ oauth.ScopeVerifier = &Store{}
)

type userDoc struct {
	ID       string `bson:"user_id"`
	Username string `bson:"username"`
	Hash     []byte `bson:"password_hash"`
}

// Store implements oauth.Storage on a connected mongo.Database.
type Store struct {
	db      *mongo.Database
	clients *mongo.Collection
	users   *mongo.Collection
	access  *mongo.Collection
	refresh *mongo.Collection
	codes   *mongo.Collection
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store. Expects a connected mongo.Database.
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		db:      db,
		clients: db.Collection("oauth_clients"),
		users:   db.Collection("oauth_users"),
		access:  db.Collection("oauth_access_tokens"),
		refresh: db.Collection("oauth_refresh_tokens"),
		codes:   db.Collection("oauth_authorization_codes"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a Store on the named database.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database), opts...), nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates the unique indexes the store relies on to reject
// duplicate values, and TTL indexes so expired access tokens and codes are
// eventually removed by the server.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := func(key string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}, Options: options.Index().SetUnique(true)}
	}
	expiry := mongo.IndexModel{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)}

	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.clients, []mongo.IndexModel{unique("client_id")}},
		{s.users, []mongo.IndexModel{unique("username"), unique("user_id")}},
		{s.access, []mongo.IndexModel{unique("access_token"), expiry}},
		// refresh tokens may have no expiry, so they get no TTL index
		{s.refresh, []mongo.IndexModel{unique("refresh_token")}},
		{s.codes, []mongo.IndexModel{unique("code"), expiry}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// findOne decodes the first document matching filter into v. It reports false
// when there is none.
func findOne(ctx context.Context, coll *mongo.Collection, filter bson.M, v any) (bool, error) {
	err := coll.FindOne(ctx, filter).Decode(v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find in %s: %w", coll.Name(), err)
	}
	return true, nil
}

// deleteOne reports whether this call removed the matching document.
func deleteOne(ctx context.Context, coll *mongo.Collection, filter bson.M) (bool, error) {
	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", coll.Name(), err)
	}
	return res.DeletedCount > 0, nil
}

func insertError(what string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("save %s: %w", what, oauth.ErrDuplicateToken)
	}
	return fmt.Errorf("save %s: %w", what, err)
}

// CreateClient inserts or replaces a client.
func (s *Store) CreateClient(ctx context.Context, client *oauth.Client) error {
	if client == nil || client.ID == "" {
		return errors.New("create client: missing client id")
	}
	_, err := s.clients.ReplaceOne(ctx, bson.M{"client_id": client.ID}, client, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, username, password string) (*oauth.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	doc := userDoc{ID: uuid.NewString(), Username: username, Hash: hash}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("create user %q: %w", username, oauth.ErrUserExists)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &oauth.User{ID: doc.ID, Username: username}, nil
}

// GetClient retrieves a client by ID, checking the secret when one is given.
func (s *Store) GetClient(ctx context.Context, clientID, clientSecret string) (*oauth.Client, error) {
	var c oauth.Client
	ok, err := findOne(ctx, s.clients, bson.M{"client_id": clientID}, &c)
	if err != nil || !ok {
		return nil, err
	}
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(c.Secret), []byte(clientSecret)) != 1 {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) GetUser(ctx context.Context, username, password string) (*oauth.User, error) {
	var doc userDoc
	ok, err := findOne(ctx, s.users, bson.M{"username": username}, &doc)
	if err != nil || !ok {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(doc.Hash, []byte(password)) != nil {
		return nil, nil
	}
	return &oauth.User{ID: doc.ID, Username: doc.Username}, nil
}

func (s *Store) GetUserFromClient(ctx context.Context, client *oauth.Client) (*oauth.User, error) {
	var c oauth.Client
	ok, err := findOne(ctx, s.clients, bson.M{"client_id": client.ID}, &c)
	if err != nil || !ok {
		return nil, err
	}
	return oauth.ServiceUser(&c), nil
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*oauth.AccessToken, error) {
	var at oauth.AccessToken
	filter := bson.M{"access_token": token}
	ok, err := findOne(ctx, s.access, filter, &at)
	if err != nil || !ok {
		return nil, err
	}
	if at.Expired(s.now()) {
		_, _ = s.access.DeleteOne(ctx, filter)
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
	filter := bson.M{"refresh_token": token}
	ok, err := findOne(ctx, s.refresh, filter, &rt)
	if err != nil || !ok {
		return nil, err
	}
	if rt.Expired(s.now()) {
		_, _ = s.refresh.DeleteOne(ctx, filter)
		return nil, nil
	}
	if rt.Client, rt.User, err = s.resolve(ctx, rt.ClientID, rt.UserID); err != nil {
		return nil, err
	}
	return &rt, nil
}

// SaveToken inserts the access half, then the refresh half. If the second
// insert fails the first is deleted again, so a failed save leaves nothing.
func (s *Store) SaveToken(ctx context.Context, token *oauth.Token, client *oauth.Client, user *oauth.User) (*oauth.Token, error) {
	stored := *token
	stored.Client, stored.User = client, user
	at := stored.Access()
	rt := stored.Refresh()

	if _, err := s.access.InsertOne(ctx, at); err != nil {
		return nil, insertError("access token", err)
	}
	if rt != nil {
		if _, err := s.refresh.InsertOne(ctx, rt); err != nil {
			if derr := s.undoAccess(ctx, at.AccessToken); derr != nil {
				return nil, errors.Join(insertError("refresh token", err), derr)
			}
			return nil, insertError("refresh token", err)
		}
	}
	return &stored, nil
}

// undoAccess removes a half-saved access token, even after ctx is cancelled.
func (s *Store) undoAccess(ctx context.Context, accessToken string) error {
	if _, err := s.access.DeleteOne(context.WithoutCancel(ctx), bson.M{"access_token": accessToken}); err != nil {
		return fmt.Errorf("undo access token: %w", err)
	}
	return nil
}

// RevokeToken deletes the refresh or access token with that value.
func (s *Store) RevokeToken(ctx context.Context, token string) (bool, error) {
	ok, err := deleteOne(ctx, s.refresh, bson.M{"refresh_token": token})
	if err != nil || ok {
		return ok, err
	}
	return deleteOne(ctx, s.access, bson.M{"access_token": token})
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *oauth.AuthorizationCode, client *oauth.Client, user *oauth.User) (*oauth.AuthorizationCode, error) {
	rec := *code
	if client != nil {
		rec.ClientID = client.ID
	}
	if user != nil {
		rec.UserID = user.ID
	}
	if _, err := s.codes.InsertOne(ctx, rec); err != nil {
		return nil, insertError("authorization code", err)
	}
	rec.Client, rec.User = client, user
	return &rec, nil
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	var rec oauth.AuthorizationCode
	filter := bson.M{"code": code}
	ok, err := findOne(ctx, s.codes, filter, &rec)
	if err != nil || !ok {
		return nil, err
	}
	if rec.Expired(s.now()) {
		_, _ = s.codes.DeleteOne(ctx, filter)
		return nil, nil
	}
	if rec.Client, rec.User, err = s.resolve(ctx, rec.ClientID, rec.UserID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RevokeAuthorizationCode deletes the code; DeleteOne is atomic, so only one
// concurrent caller sees a deleted count of one.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	return deleteOne(ctx, s.codes, bson.M{"code": code})
}

func (s *Store) VerifyScope(_ context.Context, token *oauth.AccessToken, scope []string) (bool, error) {
	return token.HasScope(scope), nil
}

func (s *Store) resolve(ctx context.Context, clientID, userID string) (*oauth.Client, *oauth.User, error) {
	var client *oauth.Client
	var c oauth.Client
	ok, err := findOne(ctx, s.clients, bson.M{"client_id": clientID}, &c)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		client = &c
	}

	user := &oauth.User{ID: userID}
	var doc userDoc
	ok, err = findOne(ctx, s.users, bson.M{"user_id": userID}, &doc)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		user.Username = doc.Username
	}
	return client, user, nil
}
