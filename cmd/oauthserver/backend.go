package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Seann-Moser/oauthserver/config"
	"github.com/Seann-Moser/oauthserver/oauth"
	"github.com/Seann-Moser/oauthserver/storage/memory"
	"github.com/Seann-Moser/oauthserver/storage/mongostore"
	"github.com/Seann-Moser/oauthserver/storage/redisstore"
	"github.com/Seann-Moser/oauthserver/storage/sqlstore"
)

type backend interface {
	oauth.Storage
	oauth.Registrar
	oauth.ScopeVerifier
}

// openBackend connects the configured store. The returned func releases it.
func openBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), func() {}, nil

	case config.BackendRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.BackendPostgres, config.BackendMySQL:
		driver, dsn := "pgx", cfg.PostgresDSN
		if cfg.Backend == config.BackendMySQL {
			driver, dsn = "mysql", cfg.MySQLDSN()
		}
		s, err := sqlstore.Open(ctx, driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, nil, err
			}
		}
		return s, func() { _ = s.Close() }, nil

	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := s.EnsureIndexes(ctx); err != nil {
				_ = s.Close(context.Background())
				return nil, nil, err
			}
		}
		return s, func() { _ = s.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// seed creates the configured development client and user, if any. It is
// safe to run on every start against a persistent backend.
func seed(ctx context.Context, r oauth.Registrar, s config.Seed) error {
	if s.ClientID != "" {
		err := r.CreateClient(ctx, &oauth.Client{
			ID:           s.ClientID,
			Secret:       s.ClientSecret,
			RedirectURIs: []string{s.RedirectURI},
			Grants: []string{
				string(oauth.GrantTypeAuthorizationCode),
				string(oauth.GrantTypePassword),
				string(oauth.GrantTypeRefreshToken),
				string(oauth.GrantTypeClientCredentials),
			},
		})
		if err != nil {
			return fmt.Errorf("seed client: %w", err)
		}
		slog.InfoContext(ctx, "seeded client", "client_id", s.ClientID)
	}
	if s.Username != "" {
		u, err := r.CreateUser(ctx, s.Username, s.Password)
		if errors.Is(err, oauth.ErrUserExists) {
			slog.InfoContext(ctx, "seed user already exists", "username", s.Username)
			return nil
		}
		if err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
		slog.InfoContext(ctx, "seeded user", "username", s.Username, "user_id", u.ID)
	}
	return nil
}
