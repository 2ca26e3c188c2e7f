// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only. The auth backend
    choice in particular is fixed for the process lifetime.
  - DI-Friendly: Passed to core components (stores, adapters) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the identity API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// UseRemoteAuth selects the adapter that backs the auth capability.
	// false: local registry-backed adapter; true: remote identity provider.
	// Evaluated exactly once at startup; there is no runtime switching.
	UseRemoteAuth bool `env:"USE_REMOTE_AUTH" envDefault:"false"`

	// StorageBackend selects the durable key-value engine: postgres, redis
	// or memory (dev/tests only).
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"postgres"`

	// Relational Database (PostgreSQL), required when StorageBackend=postgres
	DatabaseURL string `env:"DATABASE_URL"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis), required when StorageBackend=redis
	RedisURL string `env:"REDIS_URL"`

	// Cryptographic key for access-token signing
	SessionSecret string `env:"SESSION_SECRET,required"`

	// Remote identity provider (used when UseRemoteAuth=true)
	ProviderAPIKey  string `env:"PROVIDER_API_KEY"`
	ProviderBaseURL string `env:"PROVIDER_BASE_URL" envDefault:"https://identitytoolkit.googleapis.com/v1"`

	// Federated Google sign-in
	GoogleClientID     string `env:"OAUTH2_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OAUTH2_GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"OAUTH2_GOOGLE_CALLBACK_URL"`

	// Outbound mail (optional; codes are returned to callers regardless)
	SMTPHost string `env:"SMTP_HOST"`
	SMTPPort string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	MailFrom string `env:"MAIL_FROM" envDefault:"no-reply@publichealth.example"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	// Cross-field checks the struct tags cannot express.
	switch cfg.StorageBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("config: DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("config: REDIS_URL is required when STORAGE_BACKEND=redis")
		}
	case "memory":
		// nothing to validate
	default:
		return nil, fmt.Errorf("config: unknown STORAGE_BACKEND %q (postgres, redis, memory)", cfg.StorageBackend)
	}

	if cfg.UseRemoteAuth && cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("config: PROVIDER_API_KEY is required when USE_REMOTE_AUTH=true")
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowedOrigins returns the explicitly whitelisted CORS origins parsed
// from the comma-separated EXTRA_ORIGINS variable.
func (c *Config) AllowedOrigins() []string {
	if c.ExtraOrigins == "" {
		return nil
	}

	parts := strings.Split(c.ExtraOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
