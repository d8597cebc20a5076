package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" default:"development"`
	Port               string `env:"PORT" default:"8080"`
	BaseURL            string `env:"BASE_URL" default:"http://localhost:8080"`
	DatabaseURL        string `env:"DATABASE_URL"`
	RedisURL           string `env:"REDIS_URL"`
	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	SessionSecret      string `env:"SESSION_SECRET"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`
	LogLevel           string `env:"LOG_LEVEL" default:"info"`
	LogFormat          string `env:"LOG_FORMAT" default:"text"`

	// TwitchScopes is the space-delimited scope set required at login.
	// A callback granting less than this is rejected before any
	// credential state is created.
	TwitchScopes string `env:"TWITCH_SCOPES" default:"moderator:read:followers"`

	SessionMaxAge       time.Duration `env:"SESSION_MAX_AGE" default:"720h"` // 30 days
	BotListRefreshEvery time.Duration `env:"BOT_LIST_REFRESH_EVERY" default:"6h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RedirectURI is the OAuth callback registered with Twitch.
func (c *Config) RedirectURI() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/auth/twitch/callback"
}

// WebhookCallbackURL is where Twitch delivers EventSub notifications.
func (c *Config) WebhookCallbackURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/twitch/webhook/eventsub"
}

// RequiredScopes returns the scope set as a slice.
func (c *Config) RequiredScopes() []string {
	return strings.Fields(c.TwitchScopes)
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":         cfg.DatabaseURL,
		"REDIS_URL":            cfg.RedisURL,
		"TWITCH_CLIENT_ID":     cfg.TwitchClientID,
		"TWITCH_CLIENT_SECRET": cfg.TwitchClientSecret,
		"SESSION_SECRET":       cfg.SessionSecret,
		"WEBHOOK_SECRET":       cfg.WebhookSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	// Twitch rejects webhook secrets outside this range.
	if len(cfg.WebhookSecret) < 10 || len(cfg.WebhookSecret) > 100 {
		return errors.New("WEBHOOK_SECRET must be between 10 and 100 characters")
	}

	if len(cfg.TwitchScopes) == 0 {
		return errors.New("TWITCH_SCOPES must name at least one scope")
	}

	if cfg.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	return nil
}
