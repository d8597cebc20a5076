package twitch

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/nicklaw5/helix/v2"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

// User is the identity behind a freshly issued access token.
type User struct {
	ID          string
	Login       string
	DisplayName string
}

// HelixClient wraps the helix API client. The underlying client keeps
// token state, so calls that swap tokens are serialized.
type HelixClient struct {
	mu     sync.Mutex
	client *helix.Client
}

func NewHelixClient(clientID, clientSecret string) (*HelixClient, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return &HelixClient{client: client}, nil
}

// CurrentUser resolves which Twitch account an access token belongs to.
// Used once per login to key the credential.
func (hc *HelixClient) CurrentUser(accessToken string) (*User, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.client.SetUserAccessToken(accessToken)
	resp, err := hc.client.GetUsers(&helix.UsersParams{})
	hc.client.SetUserAccessToken("")

	if err != nil {
		return nil, fmt.Errorf("%w: user lookup failed: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user lookup returned %d: %s", domain.ErrTransient, resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return nil, fmt.Errorf("%w: no user data returned", domain.ErrTransient)
	}

	u := resp.Data.Users[0]
	name := u.DisplayName
	if name == "" {
		name = u.Login
	}
	return &User{ID: u.ID, Login: u.Login, DisplayName: name}, nil
}

// UserByLogin resolves a chat login to a Twitch user, using an app
// token. Returns ErrUserNotFound for logins Twitch does not know.
func (hc *HelixClient) UserByLogin(login string) (*User, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if err := hc.ensureAppTokenLocked(); err != nil {
		return nil, err
	}

	resp, err := hc.client.GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return nil, fmt.Errorf("%w: user lookup failed: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user lookup returned %d: %s", domain.ErrTransient, resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return nil, domain.ErrUserNotFound
	}

	u := resp.Data.Users[0]
	name := u.DisplayName
	if name == "" {
		name = u.Login
	}
	return &User{ID: u.ID, Login: u.Login, DisplayName: name}, nil
}

func (hc *HelixClient) ensureAppTokenLocked() error {
	resp, err := hc.client.RequestAppAccessToken([]string{})
	if err != nil {
		return fmt.Errorf("%w: app token request failed: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: app token request returned %d: %s", domain.ErrTransient, resp.StatusCode, resp.ErrorMessage)
	}
	hc.client.SetAppAccessToken(resp.Data.AccessToken)
	return nil
}

// CreateFollowSubscription registers a channel.follow webhook
// subscription for the broadcaster and returns its id.
func (hc *HelixClient) CreateFollowSubscription(broadcasterUserID, callbackURL, secret string) (string, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if err := hc.ensureAppTokenLocked(); err != nil {
		return "", err
	}

	resp, err := hc.client.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:    helix.EventSubTypeChannelFollow,
		Version: "2",
		Condition: helix.EventSubCondition{
			BroadcasterUserID: broadcasterUserID,
			ModeratorUserID:   broadcasterUserID,
		},
		Transport: helix.EventSubTransport{
			Method:   "webhook",
			Callback: callbackURL,
			Secret:   secret,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to create eventsub subscription: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: eventsub create returned %d: %s", domain.ErrTransient, resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.EventSubSubscriptions) == 0 {
		return "", fmt.Errorf("%w: no subscription returned", domain.ErrTransient)
	}

	return resp.Data.EventSubSubscriptions[0].ID, nil
}

// DeleteSubscription removes an EventSub subscription. A 404 is treated
// as success since the goal state is "gone".
func (hc *HelixClient) DeleteSubscription(subscriptionID string) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if err := hc.ensureAppTokenLocked(); err != nil {
		return err
	}

	resp, err := hc.client.RemoveEventSubSubscription(subscriptionID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete eventsub subscription: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: eventsub delete returned %d: %s", domain.ErrTransient, resp.StatusCode, resp.ErrorMessage)
	}
	return nil
}
