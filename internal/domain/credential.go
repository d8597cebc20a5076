package domain

import (
	"context"
	"time"
)

// Credential is the authoritative OAuth state for one Twitch channel.
// It is owned by that channel's vault actor; handlers never touch it
// directly. The browser only ever carries the opaque IDToken, never
// the access or refresh token.
type Credential struct {
	TwitchUserID string
	TwitchLogin  string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	TokenExpiry  time.Time
	// IDToken is the session token handed to the browser as a cookie
	// value. It is minted by us at login, not a Twitch artifact.
	IDToken   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasScopes reports whether the credential carries every scope in required.
func (c *Credential) HasScopes(required []string) bool {
	granted := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// CredentialRepository persists credentials across restarts. At most one
// row exists per Twitch user id. Token encryption is handled at the
// repository layer, not here.
type CredentialRepository interface {
	Upsert(ctx context.Context, cred *Credential) (*Credential, error)
	GetByTwitchUserID(ctx context.Context, twitchUserID string) (*Credential, error)
	UpdateTokens(ctx context.Context, twitchUserID, accessToken, refreshToken string, tokenExpiry time.Time) error
	Delete(ctx context.Context, twitchUserID string) error
}
