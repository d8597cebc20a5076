package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

const defaultFollowersURL = "https://api.twitch.tv/helix/channels/followers"

// FollowerClient reads channel follower relationships. The access token
// must belong to the broadcaster (or one of their moderators) and carry
// the moderator:read:followers scope.
type FollowerClient struct {
	clientID     string
	followersURL string // overridable for tests
	httpClient   *http.Client
}

func NewFollowerClient(clientID string) *FollowerClient {
	return &FollowerClient{
		clientID:     clientID,
		followersURL: defaultFollowersURL,
		httpClient:   &http.Client{Timeout: tokenCallTimeout},
	}
}

// FollowedAt returns when viewerID started following broadcasterID.
// found is false when the viewer does not follow the channel.
func (c *FollowerClient) FollowedAt(ctx context.Context, accessToken, broadcasterID, viewerID string) (followedAt time.Time, found bool, err error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", viewerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.followersURL+"?"+q.Encode(), nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to create followers request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: followers request failed: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decode
	case http.StatusUnauthorized:
		return time.Time{}, false, fmt.Errorf("%w: followers request unauthorized", domain.ErrInvalidGrant)
	case http.StatusForbidden:
		return time.Time{}, false, fmt.Errorf("%w: followers request forbidden", domain.ErrInvalidScope)
	default:
		return time.Time{}, false, fmt.Errorf("%w: followers request returned %d", domain.ErrTransient, resp.StatusCode)
	}

	var result struct {
		Data []struct {
			UserID     string    `json:"user_id"`
			UserLogin  string    `json:"user_login"`
			FollowedAt time.Time `json:"followed_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: failed to decode followers response: %v", domain.ErrTransient, err)
	}

	if len(result.Data) == 0 {
		return time.Time{}, false, nil
	}
	return result.Data[0].FollowedAt, true, nil
}
