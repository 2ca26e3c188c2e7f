// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

// Command api is the entry point for the identity HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Open the durable key-value backend (Postgres, Redis, or memory).
//  4. Run database migrations when Postgres backs the store (idempotent).
//  5. Build the user registry and the auth adapter the config selects.
//  6. Wire HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/publichealth/identity/internal/api"
	"github.com/publichealth/identity/internal/identity/auth"
	"github.com/publichealth/identity/internal/identity/mailer"
	"github.com/publichealth/identity/internal/identity/provider/googleauth"
	"github.com/publichealth/identity/internal/identity/registry"
	"github.com/publichealth/identity/internal/platform/config"
	"github.com/publichealth/identity/internal/platform/constants"
	"github.com/publichealth/identity/internal/platform/keyval"
	"github.com/publichealth/identity/internal/platform/migration"
	pgstore "github.com/publichealth/identity/internal/platform/postgres"
	redisstore "github.com/publichealth/identity/internal/platform/redis"
	"github.com/publichealth/identity/internal/platform/sec"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "identity"))
	slog.SetDefault(log)

	log.Info("service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	// A missing .env file is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil {
		log.Debug("dotenv_not_loaded", slog.Any("error", err))
	}

	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "identity"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Bool("use_remote_auth", cfg.UseRemoteAuth),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. Key-Value Storage ──────────────────────────────────────────────
	var (
		store        keyval.Store
		checkStorage func() error
	)

	switch cfg.StorageBackend {
	case "postgres":
		pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
		must(log, err, "connect to postgres")
		defer func() {
			log.Info("closing postgres pool")
			pool.Close()
		}()

		// ── 4. Migrations ─────────────────────────────────────────────────
		must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

		store, err = keyval.NewPostgresStore(startupCtx, pool, log)
		must(log, err, "open postgres key-value store")
		checkStorage = func() error {
			return pgstore.Ping(context.Background(), pool)
		}

	case "redis":
		rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
		must(log, err, "connect to redis")
		defer func() {
			log.Info("closing redis client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis close error", slog.Any("error", cerr))
			}
		}()

		store, err = keyval.NewRedisStore(rdb, log)
		must(log, err, "open redis key-value store")
		checkStorage = func() error {
			return redisstore.Ping(context.Background(), rdb)
		}

	default: // "memory", validated by config.Load
		log.Warn("storage_backend_volatile", slog.String("backend", "memory"))
		store = keyval.NewMemoryStore()
		checkStorage = func() error { return nil }
	}

	// ── 5. Domain Wiring ──────────────────────────────────────────────────
	users := registry.New(store, log)

	var sender auth.CodeSender = auth.NopSender{}
	if cfg.SMTPHost != "" {
		port, err := strconv.Atoi(cfg.SMTPPort)
		must(log, err, "parse SMTP_PORT")
		sender = mailer.New(cfg.SMTPHost, port, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom, log)
	}

	local, err := auth.NewLocalAdapter(startupCtx, users, store, sender, log)
	must(log, err, "initialize local auth adapter")

	// The remote adapter and its redirect completer exist only when the
	// config selects the remote backend.
	var (
		remote   *auth.RemoteAdapter
		redirect auth.RedirectCompleter
	)
	if cfg.UseRemoteAuth {
		provider := googleauth.New(googleauth.Config{
			APIKey:       cfg.ProviderAPIKey,
			BaseURL:      cfg.ProviderBaseURL,
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			CallbackURL:  cfg.GoogleCallbackURL,
		}, nil, log)

		remote, err = auth.NewRemoteAdapter(startupCtx, provider, users, store, log)
		must(log, err, "initialize remote auth adapter")
		must(log, remote.Start(startupCtx), "start remote auth adapter")
		redirect = provider
	}

	authenticator := auth.Select(cfg.UseRemoteAuth, local, remote, log)

	// ── 6. Token Service ──────────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.SessionSecret, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckStorage: checkStorage,
	}, log)

	// ── 8. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      auth.NewHandler(authenticator, jwtSvc, redirect),
		Users:     registry.NewHandler(users),
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	server := api.NewServer(serverCtx, cfg, log, jwtSvc, handlers)

	// ── 9. Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Tear down the active adapter last so non-remembered sessions are
	// cleared from storage before the backend goes away.
	teardownCtx, teardownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer teardownCancel()

	if err := authenticator.Close(teardownCtx); err != nil {
		log.Error("auth adapter close error", slog.Any("error", err))
	}
	if err := store.Close(); err != nil {
		log.Error("storage close error", slog.Any("error", err))
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
