package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

// handleFollowage serves the URL channel owners paste into their chat
// bot. The consumer is a bot's urlfetch, not a browser, so every
// answerable outcome is a 200 with plain text it can relay verbatim.
func (s *Server) handleFollowage(c echo.Context) error {
	channelLogin := c.Param("channel")
	viewerLogin := c.Param("user")

	broadcaster, err := s.identity.UserByLogin(channelLogin)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return c.String(http.StatusOK, fmt.Sprintf("%s is not a Twitch channel", channelLogin))
		}
		return err
	}

	answer, err := s.commands.Answer(c.Request().Context(), broadcaster.ID, broadcaster.Login, viewerLogin)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) ||
			errors.Is(err, domain.ErrCredentialExpired) ||
			errors.Is(err, domain.ErrRevoked) {
			return c.String(http.StatusOK, fmt.Sprintf("%s has not set up the followage command", broadcaster.Login))
		}
		return err
	}

	return c.String(http.StatusOK, answer)
}
