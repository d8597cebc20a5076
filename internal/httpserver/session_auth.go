package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/matthewgrima/twitchcommands/internal/vault"
)

// Context keys set by requireAuth for downstream handlers.
const (
	ctxKeyTwitchUserID = "twitch_user_id"
	ctxKeyTwitchLogin  = "twitch_login"
)

type sessionClaims struct {
	Login string `json:"login"`
	jwt.RegisteredClaims
}

// mintIDToken issues the signed session token handed to the browser.
// The same token is stored with the credential, so revoking the
// credential invalidates every session cookie that references it.
func (s *Server) mintIDToken(twitchUserID, login string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Login: login,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   twitchUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.SessionMaxAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SessionSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (s *Server) parseIDToken(tokenString string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(s.config.SessionSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	return claims, nil
}

// authenticatedSnapshot resolves the session cookie to a live,
// authenticated channel. A cookie survives logout and credential
// expiry, so the token is checked against the credential it was issued
// with, not just its own signature.
func (s *Server) authenticatedSnapshot(c echo.Context) (vault.Snapshot, bool) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return vault.Snapshot{}, false
	}
	tokenString, ok := session.Values[sessionKeyIDToken].(string)
	if !ok || tokenString == "" {
		return vault.Snapshot{}, false
	}

	claims, err := s.parseIDToken(tokenString)
	if err != nil {
		return vault.Snapshot{}, false
	}

	snap, err := s.vault.Snapshot(c.Request().Context(), claims.Subject)
	if err != nil {
		return vault.Snapshot{}, false
	}
	if snap.State != vault.StateActive && snap.State != vault.StateRefreshPending {
		return vault.Snapshot{}, false
	}
	if snap.IDToken != tokenString {
		return vault.Snapshot{}, false
	}
	return snap, true
}

// requireAuth gates routes behind a valid session. Browsers get a
// redirect to the landing page rather than a bare 401.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap, ok := s.authenticatedSnapshot(c)
		if !ok {
			return c.Redirect(http.StatusFound, "/")
		}
		c.Set(ctxKeyTwitchUserID, snap.TwitchUserID)
		c.Set(ctxKeyTwitchLogin, snap.TwitchLogin)
		return next(c)
	}
}
