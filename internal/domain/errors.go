package domain

import "errors"

// Closed failure taxonomy. Every failure path in the token lifecycle and
// the webhook pipeline maps to exactly one of these, so callers branch
// with errors.Is instead of matching error text.
var (
	// ErrInvalidGrant means the authorization code or refresh token was
	// rejected by Twitch. Not retryable; the user must log in again.
	ErrInvalidGrant = errors.New("authorization grant invalid or expired")

	// ErrInvalidScope means the granted scope set is missing a scope we
	// require. Not retryable.
	ErrInvalidScope = errors.New("granted scopes insufficient")

	// ErrTransient covers network failures, timeouts and Twitch 5xx
	// responses. The caller may retry with backoff.
	ErrTransient = errors.New("twitch temporarily unavailable")

	// ErrCredentialExpired means a refresh was permanently rejected and
	// the stored credential was discarded. The user must log in again.
	ErrCredentialExpired = errors.New("credential expired, re-login required")

	// ErrRevoked means the credential was explicitly revoked. Terminal.
	ErrRevoked = errors.New("credential revoked")

	// ErrNotAuthenticated means no credential exists for the channel.
	ErrNotAuthenticated = errors.New("channel not authenticated")

	ErrCredentialNotFound   = errors.New("credential not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUserNotFound means a chat login does not map to any Twitch
	// account.
	ErrUserNotFound = errors.New("twitch user not found")
)
