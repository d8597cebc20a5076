// Package botlist keeps the bot directory in sync with the public
// twitchinsights bot list, so chat commands can ignore lurker bots
// when counting viewers as followers.
package botlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultSourceURL = "https://api.twitchinsights.net/v1/bots/all"

// inactivityWindow drops bots not seen in chat for three months; dead
// bots just bloat the directory.
const inactivityWindow = 3 * 30 * 24 * time.Hour

// Client fetches the known-bot list from twitchinsights.
type Client struct {
	sourceURL  string
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		sourceURL:  defaultSourceURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// botRecord is the upstream tuple [login, channel_count, last_seen_unix].
type botRecord struct {
	Login    string
	LastSeen time.Time
}

func (b *botRecord) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) < 3 {
		return fmt.Errorf("bot tuple has %d fields, want 3", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &b.Login); err != nil {
		return fmt.Errorf("bot tuple login: %w", err)
	}
	var lastSeen float64
	if err := json.Unmarshal(tuple[2], &lastSeen); err != nil {
		return fmt.Errorf("bot tuple last seen: %w", err)
	}
	b.LastSeen = time.Unix(int64(lastSeen), 0)
	return nil
}

// ActiveBots returns the lowercased logins of bots seen in chat within
// the inactivity window, measured from now.
func (c *Client) ActiveBots(ctx context.Context, now time.Time) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bot list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bot list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bot list fetch returned status %d", resp.StatusCode)
	}

	var payload struct {
		Bots []botRecord `json:"bots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode bot list: %w", err)
	}

	cutoff := now.Add(-inactivityWindow)
	logins := make([]string, 0, len(payload.Bots))
	for _, bot := range payload.Bots {
		if bot.LastSeen.Before(cutoff) {
			continue
		}
		logins = append(logins, strings.ToLower(bot.Login))
	}
	return logins, nil
}
