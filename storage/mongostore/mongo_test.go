package mongostore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/Seann-Moser/oauthserver/oauth"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(mt *mtest.T) *Store {
	return New(mt.DB, WithClock(func() time.Time { return testNow }))
}

func clientDoc() bson.D {
	return bson.D{
		{Key: "client_id", Value: "web"},
		{Key: "client_secret", Value: "s3cret"},
		{Key: "redirect_uris", Value: bson.A{"http://example.com/cb"}},
		{Key: "grants", Value: bson.A{"authorization_code", "refresh_token"}},
	}
}

func deleted(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n})
}

func TestNew(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("collections", func(mt *mtest.T) {
		s := newTestStore(mt)
		for name, coll := range map[string]interface{ Name() string }{
			"oauth_clients":             s.clients,
			"oauth_users":               s.users,
			"oauth_access_tokens":       s.access,
			"oauth_refresh_tokens":      s.refresh,
			"oauth_authorization_codes": s.codes,
		} {
			if coll.Name() != name {
				mt.Errorf("collection %q, want %q", coll.Name(), name)
			}
		}
	})
}

func TestStore_GetClient(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(1, "foo.bar", mtest.FirstBatch, clientDoc()))

		c, err := s.GetClient(context.Background(), "web", "s3cret")
		if err != nil {
			mt.Fatalf("GetClient failed: %v", err)
		}
		if c == nil {
			mt.Fatal("GetClient returned nil")
		}
		if len(c.RedirectURIs) != 1 || c.RedirectURIs[0] != "http://example.com/cb" {
			mt.Errorf("RedirectURIs = %v", c.RedirectURIs)
		}
		if !c.HasGrant("refresh_token") {
			mt.Errorf("Grants = %v", c.Grants)
		}
	})

	mt.Run("wrong secret", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(1, "foo.bar", mtest.FirstBatch, clientDoc()))

		c, err := s.GetClient(context.Background(), "web", "nope")
		if err != nil || c != nil {
			mt.Fatalf("GetClient = %v, %v; want nil, nil", c, err)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "foo.bar", mtest.FirstBatch))

		c, err := s.GetClient(context.Background(), "ghost", "")
		if err != nil {
			mt.Fatalf("GetClient failed for not found case: %v", err)
		}
		if c != nil {
			mt.Error("GetClient returned a client for a non-existent ID")
		}
	})

	mt.Run("find error", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 1, Message: "test error"}))

		_, err := s.GetClient(context.Background(), "web", "")
		if err == nil {
			mt.Fatal("GetClient did not return an error for find failure")
		}
		if !strings.Contains(err.Error(), "test error") {
			mt.Errorf("Expected 'test error', got: %v", err)
		}
	})
}

func TestStore_SaveToken(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	token := func() *oauth.Token {
		return &oauth.Token{
			AccessToken:          "a",
			AccessTokenExpiresAt: testNow.Add(time.Hour),
			RefreshToken:         "r",
		}
	}

	mt.Run("success", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		saved, err := s.SaveToken(context.Background(), token(), &oauth.Client{ID: "web"}, &oauth.User{ID: "u1"})
		if err != nil {
			mt.Fatalf("SaveToken failed: %v", err)
		}
		if saved.Client.ID != "web" || saved.User.ID != "u1" {
			mt.Errorf("saved token = %+v", saved)
		}
	})

	mt.Run("duplicate refresh token is undone", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Code: 11000, Message: "duplicate key"}),
			deleted(1),
		)

		_, err := s.SaveToken(context.Background(), token(), &oauth.Client{ID: "web"}, &oauth.User{ID: "u1"})
		if !errors.Is(err, oauth.ErrDuplicateToken) {
			mt.Fatalf("err = %v, want ErrDuplicateToken", err)
		}
	})

	mt.Run("duplicate access token", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Code: 11000, Message: "duplicate key"}))

		_, err := s.SaveToken(context.Background(), token(), &oauth.Client{ID: "web"}, &oauth.User{ID: "u1"})
		if !errors.Is(err, oauth.ErrDuplicateToken) {
			mt.Fatalf("err = %v, want ErrDuplicateToken", err)
		}
	})
}

func TestStore_UndoAccessIgnoresCancellation(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("cancelled request", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(deleted(1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := s.undoAccess(ctx, "a"); err != nil {
			mt.Fatalf("undoAccess with a cancelled context: %v", err)
		}
	})
}

func TestStore_GetAccessToken(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	tokenDoc := func(expires time.Time) bson.D {
		return bson.D{
			{Key: "access_token", Value: "a"},
			{Key: "expires_at", Value: expires},
			{Key: "scope", Value: bson.A{"read"}},
			{Key: "client_id", Value: "web"},
			{Key: "user_id", Value: "u1"},
		}
	}

	mt.Run("resolves client and user", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, "foo.bar", mtest.FirstBatch, tokenDoc(testNow.Add(time.Hour))),
			mtest.CreateCursorResponse(1, "foo.bar", mtest.FirstBatch, clientDoc()),
			mtest.CreateCursorResponse(1, "foo.bar", mtest.FirstBatch, bson.D{
				{Key: "user_id", Value: "u1"},
				{Key: "username", Value: "alice"},
			}),
		)

		at, err := s.GetAccessToken(context.Background(), "a")
		if err != nil {
			mt.Fatalf("GetAccessToken failed: %v", err)
		}
		if at == nil || at.Client == nil || at.User == nil {
			mt.Fatalf("GetAccessToken = %+v", at)
		}
		if at.User.Username != "alice" || at.Client.ID != "web" {
			mt.Errorf("resolved %+v / %+v", at.Client, at.User)
		}
		if !at.HasScope([]string{"read"}) {
			mt.Errorf("Scope = %v", at.Scope)
		}
	})

	mt.Run("expired", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, "foo.bar", mtest.FirstBatch, tokenDoc(testNow.Add(-time.Second))),
			deleted(1),
		)

		at, err := s.GetAccessToken(context.Background(), "a")
		if err != nil || at != nil {
			mt.Fatalf("GetAccessToken = %v, %v; want nil, nil", at, err)
		}
	})
}

func TestStore_RevokeToken(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("refresh token", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(deleted(1))
		ok, err := s.RevokeToken(context.Background(), "r")
		if err != nil || !ok {
			mt.Fatalf("RevokeToken = %v, %v", ok, err)
		}
	})

	mt.Run("falls back to access token", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(deleted(0), deleted(1))
		ok, err := s.RevokeToken(context.Background(), "a")
		if err != nil || !ok {
			mt.Fatalf("RevokeToken = %v, %v", ok, err)
		}
	})

	mt.Run("unknown", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(deleted(0), deleted(0))
		ok, err := s.RevokeToken(context.Background(), "x")
		if err != nil || ok {
			mt.Fatalf("RevokeToken = %v, %v", ok, err)
		}
	})
}

func TestStore_RevokeAuthorizationCode(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("only the first call wins", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(deleted(1), deleted(0))

		ok, err := s.RevokeAuthorizationCode(context.Background(), "c")
		if err != nil || !ok {
			mt.Fatalf("first RevokeAuthorizationCode = %v, %v", ok, err)
		}
		ok, err = s.RevokeAuthorizationCode(context.Background(), "c")
		if err != nil || ok {
			mt.Fatalf("second RevokeAuthorizationCode = %v, %v", ok, err)
		}
	})
}

func TestStore_CreateUser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		u, err := s.CreateUser(context.Background(), "alice", "wonderland")
		if err != nil {
			mt.Fatalf("CreateUser failed: %v", err)
		}
		if u.ID == "" || u.Username != "alice" {
			mt.Errorf("user = %+v", u)
		}
	})

	mt.Run("duplicate", func(mt *mtest.T) {
		s := newTestStore(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Code: 11000, Message: "duplicate key"}))
		if _, err := s.CreateUser(context.Background(), "alice", "wonderland"); !errors.Is(err, oauth.ErrUserExists) {
			mt.Fatalf("err = %v, want ErrUserExists", err)
		}
	})
}
