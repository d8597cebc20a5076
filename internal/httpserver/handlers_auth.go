package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	apperrors "github.com/matthewgrima/twitchcommands/internal/errors"
	"github.com/matthewgrima/twitchcommands/internal/metrics"
)

const (
	twitchAuthURL = "https://id.twitch.tv/oauth2/authorize"
	oauthTimeout  = 10 * time.Second

	sessionKeyOAuthState = "oauth_state"
)

func (s *Server) registerAuthRoutes(csrfMiddleware, rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/auth/twitch/login", s.handleLogin, rateLimiter)
	s.echo.GET("/auth/twitch/callback", s.handleCallback, rateLimiter)
	s.echo.POST("/auth/twitch/logout", s.handleLogout, rateLimiter, s.requireAuth, csrfMiddleware)
}

func (s *Server) handleLanding(c echo.Context) error {
	snap, ok := s.authenticatedSnapshot(c)
	if !ok {
		return s.renderTemplate(c, "landing.html", map[string]any{
			"CSRFToken": c.Get("csrf"),
		})
	}

	commandURL := fmt.Sprintf("%s/twitch/followage/%s/$(touser)",
		strings.TrimSuffix(s.config.BaseURL, "/"), snap.TwitchLogin)

	return s.renderTemplate(c, "home.html", map[string]any{
		"Login":      snap.TwitchLogin,
		"CommandURL": commandURL,
		"CSRFToken":  c.Get("csrf"),
	})
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Server) handleLogin(c echo.Context) error {
	if _, ok := s.authenticatedSnapshot(c); ok {
		return c.Redirect(http.StatusFound, "/")
	}

	state, err := generateOAuthState()
	if err != nil {
		return apperrors.Internal("failed to generate OAuth state", err)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Error("Failed to get session for OAuth state", "error", err)
	}
	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.Internal("failed to save OAuth state session", err)
	}

	authURL := fmt.Sprintf(
		"%s?client_id=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s",
		twitchAuthURL,
		url.QueryEscape(s.config.TwitchClientID),
		url.QueryEscape(s.config.RedirectURI()),
		url.QueryEscape(s.config.TwitchScopes),
		url.QueryEscape(state),
	)
	return c.Redirect(http.StatusFound, authURL)
}

func (s *Server) handleCallback(c echo.Context) error {
	// Twitch reports user denials and misconfigurations as query
	// params, not HTTP errors.
	if errParam := c.QueryParam("error"); errParam != "" {
		metrics.LoginsTotal.WithLabelValues("denied").Inc()
		description := strings.ReplaceAll(c.QueryParam("error_description"), "+", " ")
		if description != "" {
			description = ": " + description
		}
		return c.String(http.StatusOK, fmt.Sprintf("Failed to login, %s%s. Please try again.", errParam, description))
	}

	code := c.QueryParam("code")
	if code == "" {
		metrics.LoginsTotal.WithLabelValues("bad_request").Inc()
		return c.String(http.StatusBadRequest, "Failed to login, no code. Please try again.")
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("bad_request").Inc()
		return c.String(http.StatusBadRequest, "Failed to login, invalid session. Please try again.")
	}
	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	if !ok || expectedState == "" || c.QueryParam("state") != expectedState {
		metrics.LoginsTotal.WithLabelValues("bad_state").Inc()
		return c.String(http.StatusBadRequest, "Failed to login, invalid state. Please try again.")
	}
	delete(session.Values, sessionKeyOAuthState)

	// The granted scope set must cover everything we asked for, and
	// that is decided before any credential state exists.
	granted := strings.Fields(c.QueryParam("scope"))
	if !scopesCover(granted, s.config.RequiredScopes()) {
		metrics.LoginsTotal.WithLabelValues("bad_scope").Inc()
		return c.String(http.StatusBadRequest, "Failed to login, invalid scopes. Please try again.")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), oauthTimeout)
	defer cancel()

	grant, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("exchange_failed").Inc()
		if errors.Is(err, domain.ErrInvalidGrant) {
			return c.String(http.StatusBadRequest, "Failed to login, authorization code is invalid. Please try again.")
		}
		slog.Error("Token exchange failed", "error", err)
		return c.String(http.StatusBadRequest, "Failed to login, twitch error. Please try again.")
	}

	user, err := s.identity.CurrentUser(grant.AccessToken)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("exchange_failed").Inc()
		slog.Error("Current user lookup failed", "error", err)
		return c.String(http.StatusBadRequest, "Failed to login, twitch error. Please try again.")
	}

	idToken, err := s.mintIDToken(user.ID, user.Login)
	if err != nil {
		return apperrors.Internal("failed to mint session token", err)
	}

	scopes := grant.Scopes
	if len(scopes) == 0 {
		scopes = granted
	}
	cred := &domain.Credential{
		TwitchUserID: user.ID,
		TwitchLogin:  user.Login,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Scopes:       scopes,
		TokenExpiry:  time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
		IDToken:      idToken,
	}
	if err := s.vault.Login(ctx, cred); err != nil {
		metrics.LoginsTotal.WithLabelValues("internal_error").Inc()
		slog.Error("Failed to store credential", "twitch_user_id", user.ID, "error", err)
		return c.String(http.StatusBadRequest, "Failed to login, internal error. Please try again.")
	}

	// Subscription setup is best effort: a channel without the follow
	// webhook still gets the followage command.
	s.ensureFollowSubscription(c, user.ID)

	// Regenerate the session after authentication so a pre-auth
	// session id cannot be fixated onto the logged-in user.
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.Internal("failed to invalidate old session", err)
	}
	session, err = s.sessionStore.New(c.Request(), sessionName)
	if err != nil {
		return apperrors.Internal("failed to create new session", err)
	}
	session.Values[sessionKeyIDToken] = idToken
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.Internal("failed to save session", err)
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	slog.InfoContext(ctx, "Channel logged in", "twitch_user_id", user.ID, "twitch_login", user.Login)

	return c.Redirect(http.StatusFound, "/")
}

func (s *Server) ensureFollowSubscription(c echo.Context, twitchUserID string) {
	ctx := c.Request().Context()

	if _, err := s.subRepo.GetByTwitchUserID(ctx, twitchUserID); err == nil {
		return
	}

	subID, err := s.subscriptions.CreateFollowSubscription(twitchUserID, s.config.WebhookCallbackURL(), s.config.WebhookSecret)
	if err != nil {
		slog.Error("Failed to create follow subscription", "twitch_user_id", twitchUserID, "error", err)
		return
	}
	if err := s.subRepo.Create(ctx, twitchUserID, subID, "channel.follow"); err != nil {
		slog.Error("Failed to record follow subscription", "twitch_user_id", twitchUserID, "error", err)
	}
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()
	twitchUserID, _ := c.Get(ctxKeyTwitchUserID).(string)

	// Tear the webhook subscription down first while we still know
	// which record belongs to the channel.
	if sub, err := s.subRepo.GetByTwitchUserID(ctx, twitchUserID); err == nil {
		if err := s.subscriptions.DeleteSubscription(sub.SubscriptionID); err != nil {
			slog.Error("Failed to delete follow subscription", "twitch_user_id", twitchUserID, "error", err)
		}
		if err := s.subRepo.Delete(ctx, twitchUserID); err != nil {
			slog.Error("Failed to delete subscription record", "twitch_user_id", twitchUserID, "error", err)
		}
	}

	if err := s.vault.Revoke(ctx, twitchUserID); err != nil {
		slog.Error("Failed to revoke credential", "twitch_user_id", twitchUserID, "error", err)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		session, err = s.sessionStore.New(c.Request(), sessionName)
		if err != nil {
			return apperrors.Internal("failed to create new session during logout", err)
		}
	}
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.Internal("failed to save logout session", err)
	}

	slog.InfoContext(ctx, "Channel logged out", "twitch_user_id", twitchUserID)
	return c.Redirect(http.StatusFound, "/")
}

func scopesCover(granted, required []string) bool {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}
