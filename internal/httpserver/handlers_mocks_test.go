package httpserver

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	apperrors "github.com/matthewgrima/twitchcommands/internal/errors"
	"github.com/matthewgrima/twitchcommands/internal/platform/config"
	"github.com/matthewgrima/twitchcommands/internal/twitch"
	"github.com/matthewgrima/twitchcommands/internal/vault"
)

// --- Mock implementations ---

type mockVault struct {
	loginFn    func(ctx context.Context, cred *domain.Credential) error
	revokeFn   func(ctx context.Context, twitchUserID string) error
	snapshotFn func(ctx context.Context, twitchUserID string) (vault.Snapshot, error)
}

func (m *mockVault) Login(ctx context.Context, cred *domain.Credential) error {
	if m.loginFn != nil {
		return m.loginFn(ctx, cred)
	}
	return nil
}

func (m *mockVault) Revoke(ctx context.Context, twitchUserID string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, twitchUserID)
	}
	return nil
}

func (m *mockVault) Snapshot(ctx context.Context, twitchUserID string) (vault.Snapshot, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx, twitchUserID)
	}
	return vault.Snapshot{}, domain.ErrNotAuthenticated
}

type mockOAuth struct {
	grant *domain.TokenGrant
	err   error
}

func (m *mockOAuth) Exchange(_ context.Context, _ string) (*domain.TokenGrant, error) {
	return m.grant, m.err
}

type mockIdentity struct {
	currentUserFn func(accessToken string) (*twitch.User, error)
	userByLoginFn func(login string) (*twitch.User, error)
}

func (m *mockIdentity) CurrentUser(accessToken string) (*twitch.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(accessToken)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentity) UserByLogin(login string) (*twitch.User, error) {
	if m.userByLoginFn != nil {
		return m.userByLoginFn(login)
	}
	return nil, errors.New("not implemented")
}

type mockSubscriptions struct {
	createFn func(broadcasterUserID, callbackURL, secret string) (string, error)
	deleteFn func(subscriptionID string) error
}

func (m *mockSubscriptions) CreateFollowSubscription(broadcasterUserID, callbackURL, secret string) (string, error) {
	if m.createFn != nil {
		return m.createFn(broadcasterUserID, callbackURL, secret)
	}
	return "sub-1", nil
}

func (m *mockSubscriptions) DeleteSubscription(subscriptionID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(subscriptionID)
	}
	return nil
}

type mockSubRepo struct {
	createFn func(ctx context.Context, twitchUserID, subscriptionID, subscriptionType string) error
	getFn    func(ctx context.Context, twitchUserID string) (*domain.EventSubSubscription, error)
	deleteFn func(ctx context.Context, twitchUserID string) error
}

func (m *mockSubRepo) Create(ctx context.Context, twitchUserID, subscriptionID, subscriptionType string) error {
	if m.createFn != nil {
		return m.createFn(ctx, twitchUserID, subscriptionID, subscriptionType)
	}
	return nil
}

func (m *mockSubRepo) GetByTwitchUserID(ctx context.Context, twitchUserID string) (*domain.EventSubSubscription, error) {
	if m.getFn != nil {
		return m.getFn(ctx, twitchUserID)
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (m *mockSubRepo) Delete(ctx context.Context, twitchUserID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, twitchUserID)
	}
	return nil
}

type mockCommands struct {
	answerFn func(ctx context.Context, broadcasterUserID, broadcasterLogin, viewerLogin string) (string, error)
}

func (m *mockCommands) Answer(ctx context.Context, broadcasterUserID, broadcasterLogin, viewerLogin string) (string, error) {
	if m.answerFn != nil {
		return m.answerFn(ctx, broadcasterUserID, broadcasterLogin, viewerLogin)
	}
	return "", errors.New("not implemented")
}

// --- Test helpers ---

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	tmpl := template.Must(template.New("landing.html").Parse(`Landing`))
	template.Must(tmpl.New("home.html").Parse(`Home {{.Login}} {{.CommandURL}}`))

	cfg := &config.Config{
		AppEnv:         "development",
		BaseURL:        "http://localhost:8080",
		TwitchClientID: "test-client-id",
		TwitchScopes:   "moderator:read:followers",
		SessionSecret:  "test-session-secret-32-bytes!!!!",
		WebhookSecret:  "test-webhook-secret",
		SessionMaxAge:  time.Hour,
	}

	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{Path: "/", MaxAge: 3600}

	srv := &Server{
		echo:          echo.New(),
		config:        cfg,
		vault:         &mockVault{},
		oauth:         &mockOAuth{err: errors.New("not configured")},
		identity:      &mockIdentity{},
		subscriptions: &mockSubscriptions{},
		subRepo:       &mockSubRepo{},
		commands:      &mockCommands{},
		templates:     tmpl,
		sessionStore:  store,
		startTime:     time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withVault(v credentialVault) func(*Server) {
	return func(s *Server) { s.vault = v }
}

func withOAuth(o codeExchanger) func(*Server) {
	return func(s *Server) { s.oauth = o }
}

func withIdentity(i identityClient) func(*Server) {
	return func(s *Server) { s.identity = i }
}

func withSubscriptions(m subscriptionManager) func(*Server) {
	return func(s *Server) { s.subscriptions = m }
}

func withSubRepo(r domain.SubscriptionRepository) func(*Server) {
	return func(s *Server) { s.subRepo = r }
}

func withCommands(c commandService) func(*Server) {
	return func(s *Server) { s.commands = c }
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) { s.healthChecks = checks }
}

// callHandler wraps a handler with the error middleware, matching
// production behavior.
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return apperrors.Middleware()(handler)(c)
}

// loginSession mints a session token for the given channel, wires the
// vault mock to accept it, and returns the cookies a logged-in browser
// would carry.
func loginSession(t *testing.T, srv *Server, mv *mockVault, twitchUserID, login string) []*http.Cookie {
	t.Helper()

	idToken, err := srv.mintIDToken(twitchUserID, login)
	require.NoError(t, err)

	mv.snapshotFn = func(_ context.Context, id string) (vault.Snapshot, error) {
		if id != twitchUserID {
			return vault.Snapshot{}, domain.ErrNotAuthenticated
		}
		return vault.Snapshot{
			TwitchUserID: twitchUserID,
			TwitchLogin:  login,
			IDToken:      idToken,
			State:        vault.StateActive,
		}, nil
	}

	setupReq := httptest.NewRequest(http.MethodGet, "/", nil)
	setupRec := httptest.NewRecorder()
	session, err := srv.sessionStore.Get(setupReq, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyIDToken] = idToken
	require.NoError(t, session.Save(setupReq, setupRec))

	return setupRec.Result().Cookies()
}
