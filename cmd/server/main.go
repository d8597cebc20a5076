package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/botlist"
	"github.com/matthewgrima/twitchcommands/internal/crypto"
	"github.com/matthewgrima/twitchcommands/internal/database"
	"github.com/matthewgrima/twitchcommands/internal/domain"
	"github.com/matthewgrima/twitchcommands/internal/followage"
	"github.com/matthewgrima/twitchcommands/internal/httpserver"
	"github.com/matthewgrima/twitchcommands/internal/platform/config"
	"github.com/matthewgrima/twitchcommands/internal/platform/logging"
	"github.com/matthewgrima/twitchcommands/internal/redis"
	"github.com/matthewgrima/twitchcommands/internal/twitch"
	"github.com/matthewgrima/twitchcommands/internal/vault"
	"github.com/matthewgrima/twitchcommands/internal/webhook"
)

const replayGuardWindow = 15 * time.Minute

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupCrypto(cfg *config.Config) crypto.Service {
	if cfg.TokenEncryptionKey == "" {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, tokens are stored unencrypted")
		return crypto.NoopService{}
	}
	svc, err := crypto.NewAesGcmService(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}
	return svc
}

// newFollowNotificationHandler consumes verified channel.follow
// deliveries. The event is logged for operators; the command API reads
// follow state live from Twitch, so there is nothing to store.
func newFollowNotificationHandler() webhook.NotificationFunc {
	return func(_ context.Context, n *webhook.Notification) error {
		var payload struct {
			Subscription struct {
				Type string `json:"type"`
			} `json:"subscription"`
			Event struct {
				BroadcasterUserID string    `json:"broadcaster_user_id"`
				UserLogin         string    `json:"user_login"`
				FollowedAt        time.Time `json:"followed_at"`
			} `json:"event"`
		}
		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			return err
		}
		slog.Info("New follower",
			"broadcaster_user_id", payload.Event.BroadcasterUserID,
			"follower_login", payload.Event.UserLogin,
			"followed_at", payload.Event.FollowedAt,
			"subscription_type", payload.Subscription.Type)
		return nil
	}
}

// newRevocationHandler drops the stored subscription record when
// Twitch revokes it, so the next login recreates the subscription.
func newRevocationHandler(subRepo domain.SubscriptionRepository) webhook.RevocationFunc {
	return func(ctx context.Context, n *webhook.Notification) {
		var payload struct {
			Subscription struct {
				Condition struct {
					BroadcasterUserID string `json:"broadcaster_user_id"`
				} `json:"condition"`
			} `json:"subscription"`
		}
		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			slog.Error("Failed to decode revocation payload", "subscription_id", n.SubscriptionID, "error", err)
			return
		}
		broadcasterID := payload.Subscription.Condition.BroadcasterUserID
		if broadcasterID == "" {
			return
		}
		if err := subRepo.Delete(ctx, broadcasterID); err != nil {
			slog.Error("Failed to delete revoked subscription record",
				"twitch_user_id", broadcasterID, "subscription_id", n.SubscriptionID, "error", err)
		}
	}
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: redisClient.Ping},
	}
}

func runGracefulShutdown(srv *httpserver.Server, credVault *vault.Vault, cancelBackground context.CancelFunc, stopEviction func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelBackground()
		stopEviction()
		credVault.Close()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	cryptoSvc := setupCrypto(cfg)
	credRepo := database.NewCredentialRepo(pool, cryptoSvc)
	subRepo := database.NewSubscriptionRepo(pool)

	tokenClient := twitch.NewTokenClient(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.RedirectURI())
	followerClient := twitch.NewFollowerClient(cfg.TwitchClientID)
	helixClient, err := twitch.NewHelixClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	if err != nil {
		slog.Error("Failed to create helix client", "error", err)
		os.Exit(1)
	}

	credVault := vault.New(tokenClient, credRepo, clock)

	guard := webhook.NewReplayGuard(replayGuardWindow, clock)
	stopEviction := guard.StartEvictionTimer(time.Minute)
	webhookHandler := webhook.NewHandler(
		cfg.WebhookSecret,
		guard,
		clock,
		newFollowNotificationHandler(),
		newRevocationHandler(subRepo),
	)

	botDirectory := redis.NewBotDirectory(redisClient)
	refresher := botlist.NewRefresher(botlist.NewClient(), botDirectory, clock, cfg.BotListRefreshEvery)
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	go refresher.Run(backgroundCtx)

	commands := followage.NewService(credVault, helixClient, followerClient, botDirectory, clock)

	srv, err := httpserver.NewServer(
		cfg,
		credVault,
		tokenClient,
		helixClient,
		helixClient,
		subRepo,
		commands,
		webhookHandler,
		healthChecks(pool, redisClient),
	)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, credVault, cancelBackground, stopEviction)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
