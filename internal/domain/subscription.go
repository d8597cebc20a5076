package domain

import (
	"context"
	"time"
)

// EventSubSubscription records a webhook subscription created for a
// channel, so it can be torn down when the channel revokes access.
type EventSubSubscription struct {
	TwitchUserID   string
	SubscriptionID string
	Type           string
	CreatedAt      time.Time
}

// SubscriptionRepository persists EventSub subscription records.
type SubscriptionRepository interface {
	Create(ctx context.Context, twitchUserID, subscriptionID, subscriptionType string) error
	GetByTwitchUserID(ctx context.Context, twitchUserID string) (*EventSubSubscription, error)
	Delete(ctx context.Context, twitchUserID string) error
}

// BotDirectory answers whether a chat login belongs to a known bot
// account. The backing set is refreshed periodically from the
// twitchinsights bot list.
type BotDirectory interface {
	IsBot(ctx context.Context, login string) (bool, error)
	ReplaceAll(ctx context.Context, logins []string) error
}
