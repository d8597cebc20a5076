// Package httpserver carries the web surface: the OAuth login flow,
// the EventSub webhook endpoint and the chat-command API.
package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	"github.com/matthewgrima/twitchcommands/internal/platform/config"
	"github.com/matthewgrima/twitchcommands/internal/twitch"
	"github.com/matthewgrima/twitchcommands/internal/vault"
	"github.com/matthewgrima/twitchcommands/web"
)

// credentialVault is the slice of the vault the handlers need.
type credentialVault interface {
	Login(ctx context.Context, cred *domain.Credential) error
	Revoke(ctx context.Context, twitchUserID string) error
	Snapshot(ctx context.Context, twitchUserID string) (vault.Snapshot, error)
}

// codeExchanger turns an authorization code into a token grant.
type codeExchanger interface {
	Exchange(ctx context.Context, code string) (*domain.TokenGrant, error)
}

// identityClient resolves Twitch accounts.
type identityClient interface {
	CurrentUser(accessToken string) (*twitch.User, error)
	UserByLogin(login string) (*twitch.User, error)
}

// subscriptionManager creates and removes EventSub subscriptions.
type subscriptionManager interface {
	CreateFollowSubscription(broadcasterUserID, callbackURL, secret string) (string, error)
	DeleteSubscription(subscriptionID string) error
}

// commandService answers chat-command queries.
type commandService interface {
	Answer(ctx context.Context, broadcasterUserID, broadcasterLogin, viewerLogin string) (string, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	vault         credentialVault
	oauth         codeExchanger
	identity      identityClient
	subscriptions subscriptionManager
	subRepo       domain.SubscriptionRepository
	commands      commandService

	webhookHandler http.Handler

	templates    *template.Template
	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(
	cfg *config.Config,
	credVault credentialVault,
	oauth codeExchanger,
	identity identityClient,
	subscriptions subscriptionManager,
	subRepo domain.SubscriptionRepository,
	commands commandService,
	webhookHandler http.Handler,
	healthChecks []HealthCheck,
) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		vault:          credVault,
		oauth:          oauth,
		identity:       identity,
		subscriptions:  subscriptions,
		subRepo:        subRepo,
		commands:       commands,
		webhookHandler: webhookHandler,
		templates:      templates,
		sessionStore:   setupSessionStore(cfg),
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys
const (
	sessionName       = "followage-session"
	sessionKeyIDToken = "id_token"
)

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteStrictMode,
	}
	return sessionStore
}
