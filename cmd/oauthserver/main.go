// Command oauthserver runs an OAuth2 provider with one of the bundled
// storage backends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	oauthserver "github.com/Seann-Moser/oauthserver"
	"github.com/Seann-Moser/oauthserver/config"
	"github.com/Seann-Moser/oauthserver/session"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error(fmt.Sprintf("Error running oauthserver: %v", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seed(ctx, store, cfg.Seed); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := oauthserver.New(oauthserver.Options{
		Model:              store,
		ContinueMiddleware: cfg.ContinueMiddleware,
		Grant:              cfg.GrantOptions(),
		Logger:             logger,
		Registerer:         reg,
	})
	if err != nil {
		return fmt.Errorf("create oauth server: %w", err)
	}

	var sessions *session.Manager
	if cfg.SessionSecret != "" {
		sessions, err = session.NewManager([]byte(cfg.SessionSecret), cfg.SessionTTL, store, session.WithLogger(logger))
		if err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(srv, sessions, store, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "backend", cfg.Backend)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
