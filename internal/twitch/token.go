package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

const (
	defaultTokenURL  = "https://id.twitch.tv/oauth2/token"
	tokenCallTimeout = 10 * time.Second
)

// TokenClient performs token-endpoint exchanges. It is stateless and
// never retries; retry policy belongs to the caller. The vault retries
// refreshes, the login handler never retries an authorization code
// because codes are single-use.
type TokenClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	tokenURL     string // overridable for tests
	httpClient   *http.Client
}

func NewTokenClient(clientID, clientSecret, redirectURI string) *TokenClient {
	return &TokenClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: tokenCallTimeout},
	}
}

// Exchange redeems an authorization code for a fresh grant.
func (c *TokenClient) Exchange(ctx context.Context, code string) (*domain.TokenGrant, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)
	return c.requestToken(ctx, data)
}

// Refresh trades a refresh token for a new access/refresh token pair.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.requestToken(ctx, data)
}

func (c *TokenClient) requestToken(ctx context.Context, data url.Values) (*domain.TokenGrant, error) {
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable.
		return nil, fmt.Errorf("%w: token request failed: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read token response: %v", domain.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyTokenFailure(resp.StatusCode, body)
	}

	var result struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		ExpiresIn    int      `json:"expires_in"`
		Scope        []string `json:"scope"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode token response: %v", domain.ErrTransient, err)
	}

	return &domain.TokenGrant{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		Scopes:       result.Scope,
	}, nil
}

// classifyTokenFailure maps the token endpoint's failure modes onto the
// closed taxonomy. 400/401/403 mean the grant itself is dead (bad or
// reused code, revoked refresh token); anything else is treated as a
// provider fault worth retrying. The error text carries Twitch's error
// name but never the grant value.
func classifyTokenFailure(status int, body []byte) error {
	var oauthErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &oauthErr)

	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		if strings.Contains(strings.ToLower(oauthErr.Message), "scope") {
			return fmt.Errorf("%w: twitch rejected scopes (%d %s)", domain.ErrInvalidScope, status, oauthErr.Error)
		}
		return fmt.Errorf("%w: twitch rejected grant (%d %s)", domain.ErrInvalidGrant, status, oauthErr.Error)
	default:
		return fmt.Errorf("%w: token endpoint returned %d", domain.ErrTransient, status)
	}
}
