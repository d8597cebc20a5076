// Package followage answers the chat command "how long has this viewer
// been following". Output is plain text ready for a chat bot to relay.
package followage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	"github.com/matthewgrima/twitchcommands/internal/metrics"
	"github.com/matthewgrima/twitchcommands/internal/twitch"
)

// tokenSource is the slice of the vault the service needs.
type tokenSource interface {
	Get(ctx context.Context, twitchUserID string) (string, error)
}

// userResolver maps chat logins to Twitch accounts.
type userResolver interface {
	UserByLogin(login string) (*twitch.User, error)
}

// followerSource checks when a viewer followed a broadcaster.
type followerSource interface {
	FollowedAt(ctx context.Context, accessToken, broadcasterID, viewerID string) (time.Time, bool, error)
}

type Service struct {
	tokens    tokenSource
	users     userResolver
	followers followerSource
	bots      domain.BotDirectory
	clock     clockwork.Clock
}

func NewService(tokens tokenSource, users userResolver, followers followerSource, bots domain.BotDirectory, clock clockwork.Clock) *Service {
	return &Service{
		tokens:    tokens,
		users:     users,
		followers: followers,
		bots:      bots,
		clock:     clock,
	}
}

// Answer produces the chat reply for a followage query on the given
// broadcaster's channel. Known chat bots get a fixed reply without a
// Twitch round trip.
func (s *Service) Answer(ctx context.Context, broadcasterUserID, broadcasterLogin, viewerLogin string) (string, error) {
	viewerLogin = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(viewerLogin), "@"))
	if viewerLogin == "" {
		metrics.CommandRequestsTotal.WithLabelValues("followage", "bad_request").Inc()
		return "", fmt.Errorf("%w: viewer login is empty", domain.ErrUserNotFound)
	}

	if isBot, err := s.bots.IsBot(ctx, viewerLogin); err == nil && isBot {
		// A degraded bot directory (err != nil) just means we answer
		// bots like regular viewers for a while.
		metrics.CommandRequestsTotal.WithLabelValues("followage", "bot").Inc()
		return fmt.Sprintf("%s is a chat bot", viewerLogin), nil
	}

	viewer, err := s.users.UserByLogin(viewerLogin)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			metrics.CommandRequestsTotal.WithLabelValues("followage", "unknown_user").Inc()
			return fmt.Sprintf("%s is not a Twitch user", viewerLogin), nil
		}
		metrics.CommandRequestsTotal.WithLabelValues("followage", "error").Inc()
		return "", err
	}

	accessToken, err := s.tokens.Get(ctx, broadcasterUserID)
	if err != nil {
		metrics.CommandRequestsTotal.WithLabelValues("followage", "error").Inc()
		return "", err
	}

	followedAt, found, err := s.followers.FollowedAt(ctx, accessToken, broadcasterUserID, viewer.ID)
	if err != nil {
		metrics.CommandRequestsTotal.WithLabelValues("followage", "error").Inc()
		return "", err
	}
	if !found {
		metrics.CommandRequestsTotal.WithLabelValues("followage", "not_following").Inc()
		return fmt.Sprintf("%s is not following %s", viewer.DisplayName, broadcasterLogin), nil
	}

	metrics.CommandRequestsTotal.WithLabelValues("followage", "ok").Inc()
	return fmt.Sprintf("%s has been following %s for %s",
		viewer.DisplayName, broadcasterLogin, FormatDuration(s.clock.Now().Sub(followedAt))), nil
}

// FormatDuration renders a follow duration the way chat expects it:
// the two most significant units, skipping zeros.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}

	total := int64(d / time.Minute)
	units := []struct {
		name    string
		minutes int64
	}{
		{"year", 525600},
		{"month", 43800},
		{"day", 1440},
		{"hour", 60},
		{"minute", 1},
	}

	parts := make([]string, 0, 2)
	for _, u := range units {
		if len(parts) == 2 {
			break
		}
		n := total / u.minutes
		if n == 0 {
			continue
		}
		total -= n * u.minutes
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", u.name))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}
	return strings.Join(parts, ", ")
}
